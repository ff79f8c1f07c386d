// Package password owns everything the auth engine knows about plaintext
// passwords: argon2id hashing, the complexity score and advisory strength
// estimates.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Verification reads the parameters from the hash itself, so raising the cost
// does not invalidate stored hashes. [Argon2.NeedsUpgrade] reports when a
// stored hash is below the configured cost.
//
// # Complexity
//
// [Score] awards one point each for length >= 12, a lowercase letter, an
// uppercase letter, a digit and a symbol from [Symbols]. Registration and
// password changes require the full score of 5.
//
// # What this package must NOT do
//
//   - Store passwords or hashes. History and reuse checks belong to the engine.
//   - Import any other agencyauth package.
//   - Log plaintext passwords.
package password
