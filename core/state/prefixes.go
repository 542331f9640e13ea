package state

var (
	hubParamsKey         = []byte("escrow/hub")
	escrowRecordPrefix   = []byte("escrow/record/")
	custodyBalancePrefix = []byte("escrow/custody/balance/")
	custodyItemsPrefix   = []byte("escrow/custody/items/")
	partyIndexPrefix     = []byte("escrow/party/")
	accountPrefix        = []byte("account/")
)
