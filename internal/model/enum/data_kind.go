package enum

// DataKind describes what the gateway should deliver for a request.
type DataKind uint8

const (
	_data_kind_beg DataKind = iota
	DataKindTrades
	DataKindMidpoint
	DataKindBidAsk
	_data_kind_end
)

func (d DataKind) IsAvailable() bool {
	return d > _data_kind_beg && d < _data_kind_end
}

func (d DataKind) String() string {
	switch d {
	case DataKindTrades:
		return "TRADES"
	case DataKindMidpoint:
		return "MIDPOINT"
	case DataKindBidAsk:
		return "BID_ASK"
	default:
		return "unknown"
	}
}
