// Package postgres implements the rideauth account, refresh token and OTP
// stores on PostgreSQL through database/sql and the pgx stdlib driver.
//
// Consume operations are single conditional UPDATE statements; the row count
// decides the winner and a follow-up read only classifies the loss.
package postgres
