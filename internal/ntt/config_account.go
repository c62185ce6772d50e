package ntt

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Config is the decoded prefix of the manager's config account. Only the
// fields this protocol reads are materialized; the tail past the chain id is
// left untouched.
type Config struct {
	Bump         uint8
	Owner        solana.PublicKey
	Mint         solana.PublicKey
	TokenProgram solana.PublicKey
	Mode         uint8
	ChainID      ChainID
}

func configDiscriminator() []byte {
	h := sha256.Sum256([]byte("account:Config"))
	return h[:8]
}

// DecodeConfig parses the config account prefix.
func DecodeConfig(data []byte) (*Config, error) {
	disc := configDiscriminator()
	if len(data) < len(disc) || !bytes.Equal(data[:len(disc)], disc) {
		return nil, fmt.Errorf("account data is not an ntt Config record")
	}
	dec := bin.NewBorshDecoder(data[len(disc):])

	var c Config
	var err error
	if c.Bump, err = dec.ReadUint8(); err != nil {
		return nil, fmt.Errorf("decode ntt config: %w", err)
	}
	readKey := func(dst *solana.PublicKey) error {
		b, err := dec.ReadNBytes(32)
		if err != nil {
			return err
		}
		*dst = solana.PublicKeyFromBytes(b)
		return nil
	}
	if err = readKey(&c.Owner); err != nil {
		return nil, fmt.Errorf("decode ntt config: %w", err)
	}
	if err = readKey(&c.Mint); err != nil {
		return nil, fmt.Errorf("decode ntt config: %w", err)
	}
	if err = readKey(&c.TokenProgram); err != nil {
		return nil, fmt.Errorf("decode ntt config: %w", err)
	}
	if c.Mode, err = dec.ReadUint8(); err != nil {
		return nil, fmt.Errorf("decode ntt config: %w", err)
	}
	chain, err := dec.ReadUint16(binary.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("decode ntt config: %w", err)
	}
	c.ChainID = ChainID(chain)
	return &c, nil
}

// Marshal renders the prefix with its discriminator, for fixtures and fakes.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(configDiscriminator())
	enc := bin.NewBorshEncoder(&buf)
	enc.WriteUint8(c.Bump)
	enc.WriteBytes(c.Owner.Bytes(), false)
	enc.WriteBytes(c.Mint.Bytes(), false)
	enc.WriteBytes(c.TokenProgram.Bytes(), false)
	enc.WriteUint8(c.Mode)
	if err := enc.WriteUint16(uint16(c.ChainID), binary.LittleEndian); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
