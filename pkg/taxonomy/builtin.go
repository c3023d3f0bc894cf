package taxonomy

// builtin is the SWC registry subset the bundled adapters report, with the
// detector and rule names each tool uses for it.
var builtin = []Entry{
	{Code: "SWC-100", Title: "Function Default Visibility", Aliases: []string{"function-default-visibility", "func-visibility"}},
	{Code: "SWC-101", Title: "Integer Overflow and Underflow", Aliases: []string{"integer-overflow", "integer-underflow", "arithmetic", "divide-before-multiply"}},
	{Code: "SWC-102", Title: "Outdated Compiler Version", Aliases: []string{"solc-version", "compiler-version", "outdated-compiler"}},
	{Code: "SWC-103", Title: "Floating Pragma", Aliases: []string{"pragma", "floating-pragma", "unspecific-solidity-pragma"}},
	{Code: "SWC-104", Title: "Unchecked Call Return Value", Aliases: []string{"unchecked-lowlevel", "unchecked-send", "unchecked-transfer", "unchecked-call", "check-send-result", "unchecked-low-level-calls"}},
	{Code: "SWC-105", Title: "Unprotected Ether Withdrawal", Aliases: []string{"access-control", "arbitrary-send-eth", "arbitrary-send", "unprotected-withdrawal", "missing-access-control", "centralization-risk"}},
	{Code: "SWC-106", Title: "Unprotected SELFDESTRUCT Instruction", Aliases: []string{"suicidal", "unprotected-selfdestruct", "avoid-suicide", "selfdestruct"}},
	{Code: "SWC-107", Title: "Reentrancy", Aliases: []string{"reentrancy", "reentrancy-eth", "reentrancy-no-eth", "reentrancy-benign", "reentrancy-events", "reentrancy-unlimited-gas", "state-change-after-external-call", "reentrancy-state-change"}},
	{Code: "SWC-108", Title: "State Variable Default Visibility", Aliases: []string{"state-visibility", "state-variable-default-visibility"}},
	{Code: "SWC-109", Title: "Uninitialized Storage Pointer", Aliases: []string{"uninitialized-storage", "uninitialized-local"}},
	{Code: "SWC-110", Title: "Assert Violation", Aliases: []string{"assert-violation", "exception-state"}},
	{Code: "SWC-111", Title: "Use of Deprecated Solidity Functions", Aliases: []string{"deprecated-standards", "avoid-sha3", "avoid-throw"}},
	{Code: "SWC-112", Title: "Delegatecall to Untrusted Callee", Aliases: []string{"controlled-delegatecall", "delegatecall-loop", "delegatecall-to-untrusted-callee"}},
	{Code: "SWC-113", Title: "DoS with Failed Call", Aliases: []string{"calls-loop", "dos-failed-call", "multiple-sends"}},
	{Code: "SWC-114", Title: "Transaction Order Dependence", Aliases: []string{"tod", "transaction-order-dependence", "front-running"}},
	{Code: "SWC-115", Title: "Authorization through tx.origin", Aliases: []string{"tx-origin", "avoid-tx-origin", "tx.origin"}},
	{Code: "SWC-116", Title: "Block values as a proxy for time", Aliases: []string{"timestamp", "block-timestamp", "not-rely-on-time", "dependence-on-predictable-environment-variable"}},
	{Code: "SWC-118", Title: "Incorrect Constructor Name", Aliases: []string{"incorrect-constructor-name"}},
	{Code: "SWC-119", Title: "Shadowing State Variables", Aliases: []string{"shadowing-state", "shadowing-abstract", "no-shadowing"}},
	{Code: "SWC-120", Title: "Weak Sources of Randomness from Chain Attributes", Aliases: []string{"weak-prng", "weak-randomness", "bad-randomness"}},
	{Code: "SWC-123", Title: "Requirement Violation", Aliases: []string{"requirement-violation"}},
	{Code: "SWC-124", Title: "Write to Arbitrary Storage Location", Aliases: []string{"arbitrary-storage", "controlled-array-length", "arbitrary-write"}},
	{Code: "SWC-127", Title: "Arbitrary Jump with Function Type Variable", Aliases: []string{"arbitrary-jump", "assembly-jump"}},
	{Code: "SWC-128", Title: "DoS With Block Gas Limit", Aliases: []string{"costly-loop", "dos-gas-limit", "unbounded-loop"}},
	{Code: "SWC-131", Title: "Presence of unused variables", Aliases: []string{"unused-state", "unused-variable", "no-unused-vars"}},
	{Code: "SWC-135", Title: "Code With No Effects", Aliases: []string{"code-no-effects", "redundant-statements"}},
}
