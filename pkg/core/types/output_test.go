package types

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func commitment(b byte) []byte {
	return bytes.Repeat([]byte{b}, 20)
}

func TestOutputRecordRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		record OutputRecord
	}{
		{"empty", OutputRecord{}},
		{"zero value", OutputRecord{Outputs: []TransactionOutput{
			{Value: 0, OwnerCommitment: commitment(0x01)},
		}}},
		{"mixed", OutputRecord{Outputs: []TransactionOutput{
			{Value: 50, OwnerCommitment: commitment(0x01), Index: 0},
			{Value: 30, OwnerCommitment: commitment(0x02), Metadata: []byte("memo"), Index: 3},
			{Value: Amount(^uint64(0)), OwnerCommitment: commitment(0xff), Index: ^uint32(0)},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := DecodeOutputRecord(tt.record.Encode())
			require.NoError(t, err)
			assert.Equal(t, tt.record.Outputs, decoded.Outputs)
		})
	}
}

func TestDecodeOutputRecord_Malformed(t *testing.T) {
	good := (&OutputRecord{Outputs: []TransactionOutput{
		{Value: 7, OwnerCommitment: commitment(0x01)},
	}}).Encode()

	shortCommitment := protowire.AppendTag(nil, fieldOutputCommitment, protowire.BytesType)
	shortCommitment = protowire.AppendBytes(shortCommitment, []byte{0x01, 0x02})
	shortRecord := protowire.AppendTag(nil, fieldRecordOutputs, protowire.BytesType)
	shortRecord = protowire.AppendBytes(shortRecord, shortCommitment)

	wrongType := protowire.AppendTag(nil, fieldRecordOutputs, protowire.VarintType)
	wrongType = protowire.AppendVarint(wrongType, 1)

	tests := []struct {
		name string
		data []byte
	}{
		{"truncated varint", []byte{0xff}},
		{"truncated record", good[:len(good)-3]},
		{"short commitment", shortRecord},
		{"outputs not bytes", wrongType},
		{"garbage", []byte("not a record at all")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeOutputRecord(tt.data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrRecordDecode), "error %v should wrap ErrRecordDecode", err)
		})
	}
}

func TestDecodeOutputRecord_SkipsUnknownFields(t *testing.T) {
	record := OutputRecord{Outputs: []TransactionOutput{{Value: 9, OwnerCommitment: commitment(0x04)}}}
	data := protowire.AppendTag(record.Encode(), 15, protowire.VarintType)
	data = protowire.AppendVarint(data, 123)

	decoded, err := DecodeOutputRecord(data)
	require.NoError(t, err)
	assert.Equal(t, record.Outputs, decoded.Outputs)
}
