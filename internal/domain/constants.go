package domain

// Transaction types. Direction is carried by the type, never by the sign of the amount.
const (
	TxTypeDeposit     = "deposit"
	TxTypeWithdrawal  = "withdrawal"
	TxTypeTransferOut = "transfer-out"
	TxTypeTransferIn  = "transfer-in"

	DefaultAgency = "0001"
)

var txDescriptions = map[string]string{
	TxTypeDeposit:     "Deposit",
	TxTypeWithdrawal:  "Withdrawal",
	TxTypeTransferOut: "Transfer sent",
	TxTypeTransferIn:  "Transfer received",
}

// Description returns the human-readable label for a transaction type.
func Description(txType string) string {
	if d, ok := txDescriptions[txType]; ok {
		return d
	}
	return txType
}

// IsTransferType reports whether the type belongs to a transfer pair.
func IsTransferType(txType string) bool {
	return txType == TxTypeTransferOut || txType == TxTypeTransferIn
}
