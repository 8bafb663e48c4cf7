// Package approval runs automated approvers: a delegated actor that acts on
// pending steps according to a decision function, for example a system user
// approving low-risk transactions.
package approval
