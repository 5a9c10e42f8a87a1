package models

import "time"

// DefaultLevelStep is the number of earned points per level.
const DefaultLevelStep = 100

// Account is the running balance of a single student.
type Account struct {
	ID             string    `db:"id" json:"id"`
	StudentID      string    `db:"student_id" json:"student_id"`
	CurrentBalance int       `db:"current_balance" json:"current_balance"`
	TotalEarned    int       `db:"total_earned" json:"total_earned"`
	TotalSpent     int       `db:"total_spent" json:"total_spent"`
	Level          int       `db:"level" json:"level"`
	Version        int64     `db:"version" json:"version"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Credit adds points to the balance and the earned counter.
func (a *Account) Credit(points, levelStep int) {
	a.CurrentBalance += points
	a.TotalEarned += points
	a.relevel(levelStep)
}

// Debit removes points from the balance and adds them to the spent counter.
// Callers check CanDebit first.
func (a *Account) Debit(points, levelStep int) {
	a.CurrentBalance -= points
	a.TotalSpent += points
	a.relevel(levelStep)
}

// CanDebit reports whether points can be removed without going negative.
func (a *Account) CanDebit(points int) bool {
	return points <= a.CurrentBalance
}

// UndoCredit reverses an earlier credit.
func (a *Account) UndoCredit(points, levelStep int) {
	a.CurrentBalance -= points
	a.TotalEarned -= points
	a.relevel(levelStep)
}

// UndoDebit reverses an earlier debit.
func (a *Account) UndoDebit(points, levelStep int) {
	a.CurrentBalance += points
	a.TotalSpent -= points
	a.relevel(levelStep)
}

func (a *Account) relevel(step int) {
	if step <= 0 {
		step = DefaultLevelStep
	}
	earned := a.TotalEarned
	if earned < 0 {
		earned = 0
	}
	a.Level = 1 + earned/step
}
