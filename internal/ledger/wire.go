package ledger

// HTTPトランスポートで使うリクエストとレスポンス

const (
	PathSubmit = "/v1/submit"
	PathQuery  = "/v1/objects"
	PathCoins  = "/v1/coins"
	PathFaucet = "/gas"
)

// SubmitBody は署名対象となる送信内容
type SubmitBody struct {
	Sender  string `json:"sender"`
	Program string `json:"program,omitempty"`
	Fee     Ref    `json:"fee"`
	Op      Op     `json:"op"`
	Budget  uint64 `json:"budget"`
	Nonce   string `json:"nonce"`
}

// SubmitRequest は署名付きの送信リクエスト
type SubmitRequest struct {
	// Body はSubmitBodyのJSONエンコード。署名はこのバイト列に対して行う
	Body      []byte `json:"body"`
	PublicKey []byte `json:"public_key"`
	Signature []byte `json:"signature"`
}

type QueryRequest struct {
	Handles []string `json:"handles"`
}

type QueryResponse struct {
	Objects []*Ref `json:"objects"`
}

type CoinsResponse struct {
	Coins []Coin `json:"coins"`
}

type FaucetRequest struct {
	FixedAmountRequest struct {
		Recipient string `json:"recipient"`
	} `json:"FixedAmountRequest"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
