package types

import (
	"github.com/chronodrachma/utxod/pkg/core/address"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// ErrRecordDecode is returned when stored bytes are not a well-formed OutputRecord.
var ErrRecordDecode = errors.New("malformed output record")

// Wire field numbers. The layout is compatible with the protobuf messages
//
//	message TXOutput  { uint64 value = 1; bytes pub_key_hash = 2; bytes metadata = 3; uint32 index = 4; }
//	message TXOutputs { repeated TXOutput outputs = 1; }
const (
	fieldRecordOutputs protowire.Number = 1

	fieldOutputValue      protowire.Number = 1
	fieldOutputCommitment protowire.Number = 2
	fieldOutputMetadata   protowire.Number = 3
	fieldOutputIndex      protowire.Number = 4
)

// TransactionOutput is a value locked to the owner of a public key.
type TransactionOutput struct {
	Value Amount
	// OwnerCommitment is the address derived from the owning public key.
	OwnerCommitment []byte
	// Metadata is opaque to the index. Empty metadata decodes as nil.
	Metadata []byte
	// Index is the output's position in the transaction that produced it.
	Index uint32
}

// OutputRecord is the ordered list of still-unspent outputs produced by one
// transaction, as stored under that transaction's id.
type OutputRecord struct {
	Outputs []TransactionOutput
}

// Encode serializes the record. DecodeOutputRecord(r.Encode()) equals r for
// every record whose outputs carry address.Size commitments.
func (r *OutputRecord) Encode() []byte {
	var b []byte
	for i := range r.Outputs {
		b = protowire.AppendTag(b, fieldRecordOutputs, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Outputs[i].encode())
	}
	return b
}

func (o *TransactionOutput) encode() []byte {
	var b []byte
	if o.Value != 0 {
		b = protowire.AppendTag(b, fieldOutputValue, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(o.Value))
	}
	b = protowire.AppendTag(b, fieldOutputCommitment, protowire.BytesType)
	b = protowire.AppendBytes(b, o.OwnerCommitment)
	if len(o.Metadata) > 0 {
		b = protowire.AppendTag(b, fieldOutputMetadata, protowire.BytesType)
		b = protowire.AppendBytes(b, o.Metadata)
	}
	if o.Index != 0 {
		b = protowire.AppendTag(b, fieldOutputIndex, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(o.Index))
	}
	return b
}

// DecodeOutputRecord parses a serialized OutputRecord. All failures wrap
// ErrRecordDecode.
func DecodeOutputRecord(b []byte) (*OutputRecord, error) {
	record := &OutputRecord{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.Wrap(ErrRecordDecode, protowire.ParseError(n).Error())
		}
		b = b[n:]

		if num != fieldRecordOutputs {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, errors.Wrapf(ErrRecordDecode, "field %d: %v", num, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		if typ != protowire.BytesType {
			return nil, errors.Wrapf(ErrRecordDecode, "outputs: unexpected wire type %d", typ)
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, errors.Wrapf(ErrRecordDecode, "outputs: %v", protowire.ParseError(n))
		}
		b = b[n:]

		out, err := decodeOutput(v)
		if err != nil {
			return nil, errors.Wrapf(err, "output %d", len(record.Outputs))
		}
		record.Outputs = append(record.Outputs, out)
	}
	return record, nil
}

func decodeOutput(b []byte) (TransactionOutput, error) {
	var out TransactionOutput
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return out, errors.Wrap(ErrRecordDecode, protowire.ParseError(n).Error())
		}
		b = b[n:]

		switch num {
		case fieldOutputValue, fieldOutputIndex:
			if typ != protowire.VarintType {
				return out, errors.Wrapf(ErrRecordDecode, "field %d: unexpected wire type %d", num, typ)
			}
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return out, errors.Wrapf(ErrRecordDecode, "field %d: %v", num, protowire.ParseError(n))
			}
			b = b[n:]
			if num == fieldOutputValue {
				out.Value = Amount(v)
			} else {
				if v > uint64(^uint32(0)) {
					return out, errors.Wrapf(ErrRecordDecode, "index %d overflows uint32", v)
				}
				out.Index = uint32(v)
			}
		case fieldOutputCommitment, fieldOutputMetadata:
			if typ != protowire.BytesType {
				return out, errors.Wrapf(ErrRecordDecode, "field %d: unexpected wire type %d", num, typ)
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return out, errors.Wrapf(ErrRecordDecode, "field %d: %v", num, protowire.ParseError(n))
			}
			b = b[n:]
			if len(v) == 0 {
				continue
			}
			if num == fieldOutputCommitment {
				out.OwnerCommitment = append([]byte(nil), v...)
			} else {
				out.Metadata = append([]byte(nil), v...)
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return out, errors.Wrapf(ErrRecordDecode, "field %d: %v", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if len(out.OwnerCommitment) != address.Size {
		return out, errors.Wrapf(ErrRecordDecode, "owner commitment is %d bytes, want %d",
			len(out.OwnerCommitment), address.Size)
	}
	return out, nil
}
