package events

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/withObsrvr/namegraph-indexer/ledger"
)

// DecodeError reports a log that matched a known event signature but
// carried a malformed payload.
type DecodeError struct {
	Kind   Kind
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s event: %s", e.Kind, e.Reason)
}

func decodeErrf(kind Kind, format string, args ...any) *DecodeError {
	return &DecodeError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Normalize turns one raw log into a typed event. Logs whose topic0 is
// not one of the seven known signatures return (nil, nil): the watched
// address may emit other ledger-level logs and those are expected, not
// errors. A known topic0 with a malformed payload returns a DecodeError.
//
// ts is the enriched block timestamp. Passing nil produces a degraded
// but valid event; a missing timestamp never fails normalization.
func Normalize(raw ledger.RawLog, ts *time.Time) (Event, error) {
	if len(raw.Topics) == 0 {
		return nil, nil
	}

	base := Base{
		BlockNumber:      raw.BlockNumber,
		BlockHash:        raw.BlockHash,
		TransactionHash:  raw.TransactionHash,
		TransactionIndex: raw.TransactionIndex,
		LogIndex:         raw.LogIndex,
		Timestamp:        ts,
	}

	switch raw.Topics[0] {
	case topicMint:
		return decodeMint(raw, base)
	case topicFact:
		return decodeFact(raw, base)
	case topicNote:
		return decodeNote(raw, base)
	case topicGene:
		return decodeGene(raw, base)
	case topicTransfer:
		return decodeTransfer(raw, base)
	case topicZero:
		return decodeZero(raw, base)
	case topicUpgraded:
		return decodeUpgraded(raw, base)
	default:
		return nil, nil
	}
}

func requireTopics(kind Kind, raw ledger.RawLog, n int) error {
	if len(raw.Topics) != n {
		return decodeErrf(kind, "want %d topics, got %d", n, len(raw.Topics))
	}
	return nil
}

// topicHash validates an indexed bytes32 topic and returns it in
// canonical 0x-hex form.
func topicHash(kind Kind, topic string) (string, error) {
	b, err := ledger.DecodeHex(topic)
	if err != nil {
		return "", decodeErrf(kind, "topic %q: %v", topic, err)
	}
	if len(b) != wordSize {
		return "", decodeErrf(kind, "topic %q: want 32 bytes, got %d", topic, len(b))
	}
	return ledger.EncodeHex(b), nil
}

// topicAddress extracts the address from a left-padded indexed topic.
func topicAddress(kind Kind, topic string) (string, error) {
	b, err := ledger.DecodeHex(topic)
	if err != nil {
		return "", decodeErrf(kind, "topic %q: %v", topic, err)
	}
	if len(b) != wordSize {
		return "", decodeErrf(kind, "topic %q: want 32 bytes, got %d", topic, len(b))
	}
	return ledger.EncodeHex(b[wordSize-20:]), nil
}

// decodeLabel renders label bytes as UTF-8. Bytes that are not valid
// UTF-8 are preserved as 0x-hex so nothing is lost for diagnostics;
// this one policy applies everywhere a label is decoded.
func decodeLabel(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return ledger.EncodeHex(b)
}

func dataFields(kind Kind, raw ledger.RawLog, n int) ([][]byte, error) {
	data, err := ledger.DecodeHex(raw.Data)
	if err != nil {
		return nil, decodeErrf(kind, "data: %v", err)
	}
	fields, err := decodeDynamicBytes(data, n)
	if err != nil {
		return nil, decodeErrf(kind, "data: %v", err)
	}
	return fields, nil
}

func decodeMint(raw ledger.RawLog, base Base) (Event, error) {
	if err := requireTopics(KindMint, raw, 4); err != nil {
		return nil, err
	}
	parent, err := topicHash(KindMint, raw.Topics[1])
	if err != nil {
		return nil, err
	}
	child, err := topicHash(KindMint, raw.Topics[2])
	if err != nil {
		return nil, err
	}
	labelHash, err := topicHash(KindMint, raw.Topics[3])
	if err != nil {
		return nil, err
	}
	fields, err := dataFields(KindMint, raw, 1)
	if err != nil {
		return nil, err
	}
	return &Mint{
		Base:       base,
		ParentHash: parent,
		ChildHash:  child,
		LabelHash:  labelHash,
		Label:      decodeLabel(fields[0]),
	}, nil
}

func decodeFact(raw ledger.RawLog, base Base) (Event, error) {
	if err := requireTopics(KindFact, raw, 4); err != nil {
		return nil, err
	}
	parent, err := topicHash(KindFact, raw.Topics[1])
	if err != nil {
		return nil, err
	}
	factHash, err := topicHash(KindFact, raw.Topics[2])
	if err != nil {
		return nil, err
	}
	labelHash, err := topicHash(KindFact, raw.Topics[3])
	if err != nil {
		return nil, err
	}
	fields, err := dataFields(KindFact, raw, 2)
	if err != nil {
		return nil, err
	}
	return &Fact{
		Base:       base,
		ParentHash: parent,
		FactHash:   factHash,
		LabelHash:  labelHash,
		Label:      decodeLabel(fields[0]),
		Data:       ledger.EncodeHex(fields[1]),
	}, nil
}

func decodeNote(raw ledger.RawLog, base Base) (Event, error) {
	if err := requireTopics(KindNote, raw, 4); err != nil {
		return nil, err
	}
	parent, err := topicHash(KindNote, raw.Topics[1])
	if err != nil {
		return nil, err
	}
	noteHash, err := topicHash(KindNote, raw.Topics[2])
	if err != nil {
		return nil, err
	}
	labelHash, err := topicHash(KindNote, raw.Topics[3])
	if err != nil {
		return nil, err
	}
	fields, err := dataFields(KindNote, raw, 2)
	if err != nil {
		return nil, err
	}
	return &Note{
		Base:       base,
		ParentHash: parent,
		NoteHash:   noteHash,
		LabelHash:  labelHash,
		Label:      decodeLabel(fields[0]),
		Data:       ledger.EncodeHex(fields[1]),
	}, nil
}

func decodeGene(raw ledger.RawLog, base Base) (Event, error) {
	if err := requireTopics(KindGene, raw, 3); err != nil {
		return nil, err
	}
	entry, err := topicHash(KindGene, raw.Topics[1])
	if err != nil {
		return nil, err
	}
	addr, err := topicAddress(KindGene, raw.Topics[2])
	if err != nil {
		return nil, err
	}
	return &Gene{Base: base, EntryHash: entry, Address: addr}, nil
}

func decodeTransfer(raw ledger.RawLog, base Base) (Event, error) {
	if err := requireTopics(KindTransfer, raw, 4); err != nil {
		return nil, err
	}
	from, err := topicAddress(KindTransfer, raw.Topics[1])
	if err != nil {
		return nil, err
	}
	to, err := topicAddress(KindTransfer, raw.Topics[2])
	if err != nil {
		return nil, err
	}
	// The token id is the entry hash, so it stays a 32-byte value.
	entryID, err := topicHash(KindTransfer, raw.Topics[3])
	if err != nil {
		return nil, err
	}
	return &Transfer{Base: base, From: from, To: to, EntryID: entryID}, nil
}

func decodeZero(raw ledger.RawLog, base Base) (Event, error) {
	if err := requireTopics(KindZero, raw, 2); err != nil {
		return nil, err
	}
	addr, err := topicAddress(KindZero, raw.Topics[1])
	if err != nil {
		return nil, err
	}
	return &Zero{Base: base, Address: addr}, nil
}

func decodeUpgraded(raw ledger.RawLog, base Base) (Event, error) {
	if err := requireTopics(KindUpgraded, raw, 2); err != nil {
		return nil, err
	}
	addr, err := topicAddress(KindUpgraded, raw.Topics[1])
	if err != nil {
		return nil, err
	}
	return &Upgraded{Base: base, Address: addr}, nil
}
