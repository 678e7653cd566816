package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
)

const (
	// CurrentSchemaVersion is written by Encode.
	CurrentSchemaVersion uint8 = 2

	// v1 carried tokens and expiry only.
	schemaVersionV1 uint8 = 1

	maxItems = math.MaxUint16
)

var (
	errInvalidVersion = errors.New("invalid session version")
	errFieldTooLong   = errors.New("session field too long")
	errTooManyItems   = errors.New("session list too long")
)

// Encode serializes s in the current binary schema.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(CurrentSchemaVersion)

	if err := writeString16(&buf, s.AccessToken); err != nil {
		return nil, err
	}
	if err := writeString16(&buf, s.RefreshToken); err != nil {
		return nil, err
	}

	if err := binary.Write(&buf, binary.BigEndian, s.UserID); err != nil {
		return nil, err
	}
	if len(s.UserName) > 255 {
		return nil, errFieldTooLong
	}
	buf.WriteByte(byte(len(s.UserName)))
	buf.WriteString(s.UserName)

	if len(s.Permissions) > maxItems {
		return nil, errTooManyItems
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(s.Permissions))); err != nil {
		return nil, err
	}
	for _, p := range s.Permissions {
		if err := writeString16(&buf, p); err != nil {
			return nil, err
		}
	}

	if len(s.Roles) > maxItems {
		return nil, errTooManyItems
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(s.Roles))); err != nil {
		return nil, err
	}
	for _, r := range s.Roles {
		if r < math.MinInt32 || r > math.MaxInt32 {
			return nil, errors.New("role id out of range")
		}
		if err := binary.Write(&buf, binary.BigEndian, int32(r)); err != nil {
			return nil, err
		}
	}

	for _, v := range []int64{s.IssuedAt, s.ExpiresAt, s.RefreshedAt} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// Decode parses any supported schema version. The returned session carries
// the version it was read from in SchemaVersion.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != CurrentSchemaVersion && version != schemaVersionV1 {
		return nil, errInvalidVersion
	}

	s := &Session{SchemaVersion: version}

	if s.AccessToken, err = readString16(reader); err != nil {
		return nil, err
	}
	if s.RefreshToken, err = readString16(reader); err != nil {
		return nil, err
	}

	if version == CurrentSchemaVersion {
		if err := binary.Read(reader, binary.BigEndian, &s.UserID); err != nil {
			return nil, err
		}

		nameLen, err := reader.ReadByte()
		if err != nil {
			return nil, err
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(reader, name); err != nil {
			return nil, err
		}
		s.UserName = string(name)

		var permCount uint16
		if err := binary.Read(reader, binary.BigEndian, &permCount); err != nil {
			return nil, err
		}
		if permCount > 0 {
			s.Permissions = make([]string, 0, min(int(permCount), reader.Len()/2))
		}
		for i := 0; i < int(permCount); i++ {
			p, err := readString16(reader)
			if err != nil {
				return nil, err
			}
			s.Permissions = append(s.Permissions, p)
		}

		var roleCount uint16
		if err := binary.Read(reader, binary.BigEndian, &roleCount); err != nil {
			return nil, err
		}
		if roleCount > 0 {
			s.Roles = make([]int, 0, min(int(roleCount), reader.Len()/4))
		}
		for i := 0; i < int(roleCount); i++ {
			var r int32
			if err := binary.Read(reader, binary.BigEndian, &r); err != nil {
				return nil, err
			}
			s.Roles = append(s.Roles, int(r))
		}

		if err := binary.Read(reader, binary.BigEndian, &s.IssuedAt); err != nil {
			return nil, err
		}
	}

	if err := binary.Read(reader, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, err
	}

	if version == CurrentSchemaVersion {
		if err := binary.Read(reader, binary.BigEndian, &s.RefreshedAt); err != nil {
			return nil, err
		}
	}

	if reader.Len() != 0 {
		return nil, errors.New("trailing session bytes")
	}

	return s, nil
}

func writeString16(buf *bytes.Buffer, s string) error {
	if len(s) > math.MaxUint16 {
		return errFieldTooLong
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readString16(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	if int(n) > r.Len() {
		return "", io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
