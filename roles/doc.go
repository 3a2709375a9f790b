// Package roles holds the set of known roles and the hierarchy that lets one
// role act as another. A Manager is populated during Build and frozen; after
// Freeze it is read-only and safe for concurrent use.
package roles
