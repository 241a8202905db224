package types

// Version is the canonical project version.
// The CLI, the HTTP API, and the journal record format share this version
// per the lockstep versioning policy.
const Version = "0.4.0"
