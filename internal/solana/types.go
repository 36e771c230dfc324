package solana

// Commitment is a Solana commitment level.
type Commitment string

// Commitment levels.
const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// Encoding is a getTransaction response encoding.
type Encoding string

// Transaction encodings.
const (
	EncodingJSON       Encoding = "json"
	EncodingJSONParsed Encoding = "jsonParsed"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// GetTransactionOpts selects the commitment and encoding of a getTransaction call.
type GetTransactionOpts struct {
	Commitment Commitment
	Encoding   Encoding
}

// Transaction represents a resolved Solana transaction.
type Transaction struct {
	Slot      int64
	Signature string
	BlockTime int64 // Unix timestamp (seconds)
	Meta      *TransactionMeta
	Message   *TransactionMessage
}

// TransactionMeta contains transaction metadata.
type TransactionMeta struct {
	Err               interface{}
	Fee               uint64
	PreBalances       []uint64
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
	LogMessages       []string
	LoadedAddresses   LoadedAddresses
}

// LoadedAddresses are the accounts pulled in from address lookup tables.
type LoadedAddresses struct {
	Writable []string
	Readonly []string
}

// TransactionMessage contains the transaction message.
type TransactionMessage struct {
	AccountKeys []AccountKey
}

// AccountKey is one static account of the message.
type AccountKey struct {
	Pubkey   string
	Signer   bool
	Writable bool
}

// TokenBalance is an SPL token balance entry from pre/postTokenBalances.
type TokenBalance struct {
	AccountIndex   int
	Mint           string
	Owner          string
	ProgramID      string
	Amount         string // raw integer amount
	Decimals       int
	UIAmountString string
}

// Failed reports whether the transaction executed with an error.
func (tx *Transaction) Failed() bool {
	return tx != nil && tx.Meta != nil && tx.Meta.Err != nil
}

// AccountKeys returns static keys followed by loaded writable and readonly keys,
// in the index order used by balances. Duplicates are kept so indexes stay aligned.
func (tx *Transaction) AccountKeys() []string {
	if tx == nil || tx.Message == nil {
		return nil
	}
	keys := make([]string, 0, len(tx.Message.AccountKeys))
	for _, k := range tx.Message.AccountKeys {
		keys = append(keys, k.Pubkey)
	}
	if tx.Meta != nil {
		keys = append(keys, tx.Meta.LoadedAddresses.Writable...)
		keys = append(keys, tx.Meta.LoadedAddresses.Readonly...)
	}
	return keys
}

// Signers returns the signing accounts in message order. The first is the fee payer.
func (tx *Transaction) Signers() []string {
	if tx == nil || tx.Message == nil {
		return nil
	}
	var signers []string
	for _, k := range tx.Message.AccountKeys {
		if k.Signer {
			signers = append(signers, k.Pubkey)
		}
	}
	return signers
}

// IndexOf returns the balance index of key, or -1.
func (tx *Transaction) IndexOf(key string) int {
	for i, k := range tx.AccountKeys() {
		if k == key {
			return i
		}
	}
	return -1
}
