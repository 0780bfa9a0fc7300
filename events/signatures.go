package events

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// eventTopic computes the topic0 value for a Solidity event signature.
func eventTopic(signature string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// topic0 values for the seven contract events the indexer understands.
// Anything else emitted at the watched address is skipped.
var (
	topicMint     = eventTopic("Mint(bytes32,bytes32,bytes,bytes)")
	topicFact     = eventTopic("Fact(bytes32,bytes32,bytes,bytes,bytes)")
	topicNote     = eventTopic("Note(bytes32,bytes32,bytes,bytes,bytes)")
	topicGene     = eventTopic("Gene(bytes32,address)")
	topicTransfer = eventTopic("Transfer(address,address,uint256)")
	topicZero     = eventTopic("Zero(address)")
	topicUpgraded = eventTopic("Upgraded(address)")
)
