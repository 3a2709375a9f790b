// Package rate provides Redis fixed-window counters for login and OTP
// verification throttling.
//
// # Window semantics
//
// INCR plus EXPIRE on the first hit of a window.
// Keys, relative to the configured prefix:
//   - login:u:<email>  failed logins per account email
//   - login:ip:<ip>    failed logins per client IP
//   - otp:<purpose>:<account>  OTP verification attempts
//
// This package does not decide policy; the engine decides when to check,
// record and reset.
package rate
