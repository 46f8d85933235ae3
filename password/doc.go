// Package password hashes account secrets with argon2id.
//
// Hashes are PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Verification always uses the parameters stored in the hash; [Argon2.NeedsUpgrade]
// tells the caller when a stored hash is weaker than the current settings.
//
// The package never stores secrets and never logs them.
package password
