package indexer

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"ammScope/internal/model"
)

// buildLogRecord normalizes a chain log. Timestamp is filled in later, only
// when the decoded event does not carry one.
func buildLogRecord(chainID uint64, lg types.Log) model.LogRecord {
	topics := make([]string, 0, len(lg.Topics))
	for _, topic := range lg.Topics {
		topics = append(topics, topic.Hex())
	}

	return model.LogRecord{
		ChainID:     chainID,
		BlockNumber: lg.BlockNumber,
		BlockHash:   lg.BlockHash.Hex(),
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    uint64(lg.Index),
		Address:     lg.Address.Hex(),
		Topics:      topics,
		Data:        hexutil.Encode(lg.Data),
		Removed:     lg.Removed,
	}
}
