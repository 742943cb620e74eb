// Package engine is the alert decision core of Quell. It defines the
// Engine facade (normalize, duplicate check, scoring, rules, audit), the
// Detector (sliding-window duplicate state), the Scorer and AuditLog
// boundaries, and the domain models.
package engine
