// Package password hashes account passwords with argon2id and stores them as
// PHC strings ($argon2id$v=19$m=...,t=...,p=...$salt$hash).
package password
