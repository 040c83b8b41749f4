package domain

// Token is a catalog entry for a transferable asset on a chain.
type Token struct {
	ID              int64
	Chain           ChainID
	Symbol          string
	Name            string
	ContractAddress *string
	Decimals        int32
	IsActive        bool
	IsNative        bool
}

func (t *Token) Asset() Asset {
	a := Asset{Symbol: t.Symbol, Decimals: t.Decimals}
	if t.ContractAddress != nil && !t.IsNative {
		a.Contract = *t.ContractAddress
	}
	return a
}
