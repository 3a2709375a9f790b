// Package redisstore implements rideauth.RefreshTokenStore and rideauth.OTPStore
// on Redis. Consume operations run as Lua scripts so concurrent callers racing
// on one refresh token or one code observe exactly one winner.
//
// Key layout (prefix defaults to "ra"):
//
//	<prefix>:rt:<rotation id>            hash: account_id issued_at expires_at consumed_at
//	<prefix>:rta:<account id>            set of rotation ids, used by DeleteAllForAccount
//	<prefix>:otp:<purpose>:<account id>  hash: id account_id purpose code_hash expires_at created_at consumed
package redisstore
