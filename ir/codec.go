// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package ir

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"

	"golang.org/x/crypto/blake2b"

	"github.com/golang/snappy"
)

// recordTag discriminates entries in the binary envelope. Decode rejects
// any tag it does not recognize: records carry no generic length prefix,
// so an unknown record cannot be skipped.
type recordTag uint8

const (
	tagRoot recordTag = iota + 1
	tagBlock
	tagAnnotation
	tagSourceMap
)

// magic identifies the envelope format; version allows a future incompatible
// layout to be rejected cleanly instead of silently misparsed.
const (
	magic          uint32 = 0x656e6121 // "ena!"
	formatVersion  uint8  = 1
	flagCompressed uint8  = 1 << 0
)

// DefaultExtension is the file extension conventionally used for the
// binary envelope.
const DefaultExtension = ".enair"

// Encode serializes program into the binary envelope. When compress is
// true the record payload is snappy-compressed before being written.
func Encode(program *IR, compress bool) ([]byte, error) {
	var body bytes.Buffer
	if err := writeRoot(&body, program); err != nil {
		return nil, err
	}

	payload := body.Bytes()
	flags := uint8(0)
	if compress {
		payload = snappy.Encode(nil, payload)
		flags |= flagCompressed
	}

	var out bytes.Buffer
	_ = binary.Write(&out, binary.LittleEndian, magic)
	out.WriteByte(formatVersion)
	out.WriteByte(flags)
	_ = binary.Write(&out, binary.LittleEndian, uint64(len(payload)))
	out.Write(payload)
	return out.Bytes(), nil
}

// Decode parses the binary envelope produced by Encode.
func Decode(data []byte) (*IR, error) {
	r := bytes.NewReader(data)

	var gotMagic uint32
	if err := binary.Read(r, binary.LittleEndian, &gotMagic); err != nil {
		return nil, fmt.Errorf("ir: reading magic: %w", err)
	}
	if gotMagic != magic {
		return nil, fmt.Errorf("ir: bad magic 0x%x", gotMagic)
	}
	version, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("ir: reading version: %w", err)
	}
	if version != formatVersion {
		return nil, fmt.Errorf("ir: unsupported envelope version %d", version)
	}
	flags, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("ir: reading flags: %w", err)
	}
	var payloadLen uint64
	if err := binary.Read(r, binary.LittleEndian, &payloadLen); err != nil {
		return nil, fmt.Errorf("ir: reading payload length: %w", err)
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("ir: reading payload: %w", err)
	}
	if flags&flagCompressed != 0 {
		payload, err = snappy.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("ir: snappy decode: %w", err)
		}
	}

	return readRoot(bytes.NewReader(payload))
}

// writeRoot emits records in sorted-name order so the encoding is
// canonical: the same IR always serializes to the same bytes, which
// ContentDigest relies on for stable cache keys.
func writeRoot(w *bytes.Buffer, program *IR) error {
	writeTag(w, tagRoot)
	count := len(program.Blocks) + len(program.Annotations) + len(program.SourceMap)
	writeUvarint(w, uint64(count))

	blockNames := make([]string, 0, len(program.Blocks))
	for name := range program.Blocks {
		blockNames = append(blockNames, name)
	}
	sort.Strings(blockNames)
	for _, name := range blockNames {
		if err := writeBlock(w, name, program.Blocks[name]); err != nil {
			return err
		}
	}

	annNames := make([]string, 0, len(program.Annotations))
	for name := range program.Annotations {
		annNames = append(annNames, name)
	}
	sort.Strings(annNames)
	for _, name := range annNames {
		writeTag(w, tagAnnotation)
		writeString(w, name)
		writeString(w, program.Annotations[name])
	}

	posNames := make([]string, 0, len(program.SourceMap))
	for name := range program.SourceMap {
		posNames = append(posNames, name)
	}
	sort.Strings(posNames)
	for _, name := range posNames {
		pos := program.SourceMap[name]
		writeTag(w, tagSourceMap)
		writeString(w, name)
		writeString(w, pos.File)
		writeUvarint(w, uint64(pos.Line))
		writeUvarint(w, uint64(pos.Col))
	}
	return nil
}

func readRoot(r *bytes.Reader) (*IR, error) {
	tag, err := readTag(r)
	if err != nil {
		return nil, err
	}
	if tag != tagRoot {
		return nil, fmt.Errorf("ir: expected Root record, got tag %d", tag)
	}
	count, err := readUvarint(r)
	if err != nil {
		return nil, err
	}

	out := New()
	for i := uint64(0); i < count; i++ {
		tag, err := readTag(r)
		if err != nil {
			return nil, err
		}
		switch tag {
		case tagBlock:
			name, block, err := readBlock(r)
			if err != nil {
				return nil, err
			}
			if err := out.AddBlock(name, block, true); err != nil {
				return nil, err
			}
		case tagAnnotation:
			name, err := readString(r)
			if err != nil {
				return nil, err
			}
			ann, err := readString(r)
			if err != nil {
				return nil, err
			}
			out.Annotations[name] = ann
		case tagSourceMap:
			name, err := readString(r)
			if err != nil {
				return nil, err
			}
			file, err := readString(r)
			if err != nil {
				return nil, err
			}
			line, err := readUvarint(r)
			if err != nil {
				return nil, err
			}
			col, err := readUvarint(r)
			if err != nil {
				return nil, err
			}
			out.SourceMap[name] = Position{File: file, Line: int(line), Col: int(col)}
		default:
			// Forward compatibility: a record kind this reader doesn't know
			// about cannot be length-prefixed generically without a schema,
			// so unknown top-level tags are a hard error rather than a skip.
			// Per-field records (Block/Annotation/SourceMap) are the only
			// extensible unit; new ones must be added to this switch.
			return nil, fmt.Errorf("ir: unknown record tag %d", tag)
		}
	}
	return out, nil
}

func writeBlock(w *bytes.Buffer, name string, b Block) error {
	writeTag(w, tagBlock)
	writeString(w, name)
	if b.Global {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
	}
	w.WriteByte(byte(b.RunType))
	return writeCode(w, b.Code)
}

func readBlock(r *bytes.Reader) (string, Block, error) {
	name, err := readString(r)
	if err != nil {
		return "", Block{}, err
	}
	globalByte, err := r.ReadByte()
	if err != nil {
		return "", Block{}, err
	}
	rtByte, err := r.ReadByte()
	if err != nil {
		return "", Block{}, err
	}
	code, err := readCode(r)
	if err != nil {
		return "", Block{}, err
	}
	return name, Block{Global: globalByte != 0, RunType: RunType(rtByte), Code: code}, nil
}

func writeCode(w *bytes.Buffer, code []IRCode) error {
	writeUvarint(w, uint64(len(code)))
	for _, c := range code {
		w.WriteByte(byte(c.Op))
		switch c.Op {
		case OpPutValue:
			if err := writeValue(w, c.Value); err != nil {
				return err
			}
		case OpCall, OpIf, OpWhile:
			writeString(w, c.Name)
		case OpLocalBlock:
			writeString(w, c.Name)
			w.WriteByte(byte(c.RunType))
			if err := writeCode(w, c.Code); err != nil {
				return err
			}
		case OpReturn, OpReturnLocal:
			// no payload
		}
	}
	return nil
}

func readCode(r *bytes.Reader) ([]IRCode, error) {
	n, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	out := make([]IRCode, 0, n)
	for i := uint64(0); i < n; i++ {
		opByte, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		op := Op(opByte)
		c := IRCode{Op: op}
		switch op {
		case OpPutValue:
			v, err := readValue(r)
			if err != nil {
				return nil, err
			}
			c.Value = v
		case OpCall, OpIf, OpWhile:
			name, err := readString(r)
			if err != nil {
				return nil, err
			}
			c.Name = name
		case OpLocalBlock:
			name, err := readString(r)
			if err != nil {
				return nil, err
			}
			rtByte, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			sub, err := readCode(r)
			if err != nil {
				return nil, err
			}
			c.Name = name
			c.RunType = RunType(rtByte)
			c.Code = sub
		case OpReturn, OpReturnLocal:
			// no payload
		default:
			return nil, fmt.Errorf("ir: unknown op tag %d", opByte)
		}
		out = append(out, c)
	}
	return out, nil
}

func writeValue(w *bytes.Buffer, v Value) error {
	w.WriteByte(byte(v.kind))
	switch v.kind {
	case KindNumber:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v.num))
		w.Write(buf[:])
	case KindString, KindBlock, KindAtom:
		writeString(w, v.str)
	case KindBoolean:
		if v.b {
			w.WriteByte(1)
		} else {
			w.WriteByte(0)
		}
	case KindPointer:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], v.ptr)
		w.Write(buf[:])
	case KindException:
		return writeValue(w, *v.excep)
	case KindNull:
		// no payload
	}
	return nil
}

func readValue(r *bytes.Reader) (Value, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return Value{}, err
	}
	kind := ValueKind(kindByte)
	switch kind {
	case KindNumber:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return Value{}, err
		}
		return Number(math.Float64frombits(binary.LittleEndian.Uint64(buf[:]))), nil
	case KindString:
		s, err := readString(r)
		if err != nil {
			return Value{}, err
		}
		return String(s), nil
	case KindBlock:
		s, err := readString(r)
		if err != nil {
			return Value{}, err
		}
		return MakeBlock(s), nil
	case KindAtom:
		s, err := readString(r)
		if err != nil {
			return Value{}, err
		}
		return Atom(s), nil
	case KindBoolean:
		b, err := r.ReadByte()
		if err != nil {
			return Value{}, err
		}
		return Boolean(b != 0), nil
	case KindPointer:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return Value{}, err
		}
		return Pointer(binary.LittleEndian.Uint64(buf[:])), nil
	case KindException:
		inner, err := readValue(r)
		if err != nil {
			return Value{}, err
		}
		return MakeException(inner), nil
	case KindNull:
		return Null, nil
	default:
		return Value{}, fmt.Errorf("ir: unknown value kind %d", kindByte)
	}
}

func writeTag(w *bytes.Buffer, t recordTag) { w.WriteByte(byte(t)) }

func readTag(r *bytes.Reader) (recordTag, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	return recordTag(b), nil
}

func writeString(w *bytes.Buffer, s string) {
	writeUvarint(w, uint64(len(s)))
	w.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readUvarint(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeUvarint(w *bytes.Buffer, v uint64) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	w.Write(buf[:n])
}

func readUvarint(r *bytes.Reader) (uint64, error) {
	return binary.ReadUvarint(r)
}

// ContentDigest returns a blake2b-256 digest of program's canonical binary
// encoding (uncompressed), used as the persistent cache key for
// internal/store — unlike ContentHash's xxhash, which is for in-memory
// fast paths only, this digest is stable enough to key an on-disk cache
// across process runs.
func ContentDigest(program *IR) ([32]byte, error) {
	enc, err := Encode(program, false)
	if err != nil {
		return [32]byte{}, err
	}
	return blake2b.Sum256(enc), nil
}
