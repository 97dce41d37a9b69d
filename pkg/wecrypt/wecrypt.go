// Package wecrypt implements the WeCom callback transport envelope:
// SHA1 message signatures and the AES-256-CBC payload scheme used by the
// platform's encrypted webhook bodies.
package wecrypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"
)

// Platform error codes, matching the vendor's reference implementation.
type Code int

const (
	CodeOK                 Code = 0
	CodeValidateSignature  Code = -40001
	CodeParseXML           Code = -40002
	CodeComputeSignature   Code = -40003
	CodeIllegalAESKey      Code = -40004
	CodeValidateReceiverID Code = -40005
	CodeEncryptAES         Code = -40006
	CodeDecryptAES         Code = -40007
	CodeIllegalBuffer      Code = -40008
	CodeEncodeBase64       Code = -40009
	CodeDecodeBase64       Code = -40010
)

var codeNames = map[Code]string{
	CodeValidateSignature:  "signature validation failed",
	CodeParseXML:           "xml parse failed",
	CodeComputeSignature:   "signature computation failed",
	CodeIllegalAESKey:      "illegal encoding aes key",
	CodeValidateReceiverID: "receiver id validation failed",
	CodeEncryptAES:         "aes encryption failed",
	CodeDecryptAES:         "aes decryption failed",
	CodeIllegalBuffer:      "illegal decrypted buffer",
	CodeEncodeBase64:       "base64 encode failed",
	CodeDecodeBase64:       "base64 decode failed",
}

// Error is a gate failure carrying the platform's numeric code. Gate failures
// are permanent for the request: callers reject and never retry.
type Error struct {
	Code  Code
	cause error
}

func (e *Error) Error() string {
	name := codeNames[e.Code]
	if name == "" {
		name = "unknown error"
	}
	if e.cause != nil {
		return fmt.Sprintf("wecrypt: %s (code %d): %v", name, e.Code, e.cause)
	}
	return fmt.Sprintf("wecrypt: %s (code %d)", name, e.Code)
}

func (e *Error) Unwrap() error { return e.cause }

func newError(code Code, cause error) *Error {
	return &Error{Code: code, cause: cause}
}

// CodeOf extracts the platform code from an error, or CodeOK for nil.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	if ce, ok := err.(*Error); ok {
		return ce.Code
	}
	return CodeIllegalBuffer
}

// MsgCrypt verifies and decrypts callback payloads. It is stateless per call
// and depends only on secret material fixed at startup.
type MsgCrypt struct {
	token      string
	key        []byte
	receiverID string
}

func NewMsgCrypt(token, encodingAESKey, receiverID string) (*MsgCrypt, error) {
	if len(encodingAESKey) != 43 {
		return nil, newError(CodeIllegalAESKey, fmt.Errorf("key length %d, want 43", len(encodingAESKey)))
	}
	key, err := base64.StdEncoding.DecodeString(encodingAESKey + "=")
	if err != nil {
		return nil, newError(CodeIllegalAESKey, err)
	}
	if len(key) != 32 {
		return nil, newError(CodeIllegalAESKey, fmt.Errorf("decoded key length %d, want 32", len(key)))
	}
	return &MsgCrypt{token: token, key: key, receiverID: receiverID}, nil
}

// Signature computes the callback signature: SHA1 over the lexicographically
// sorted concatenation of token, timestamp, nonce and the ciphertext.
func (m *MsgCrypt) Signature(timestamp, nonce, ciphertext string) string {
	items := []string{m.token, timestamp, nonce, ciphertext}
	sort.Strings(items)
	sum := sha1.Sum([]byte(strings.Join(items, "")))
	return hex.EncodeToString(sum[:])
}

// VerifyURL handles the handshake path: it authenticates the echo string and
// returns its decrypted content, which the endpoint echoes back verbatim.
func (m *MsgCrypt) VerifyURL(msgSignature, timestamp, nonce, echostr string) (string, error) {
	if m.Signature(timestamp, nonce, echostr) != msgSignature {
		return "", newError(CodeValidateSignature, nil)
	}
	plain, err := m.decrypt(echostr)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

type encryptedEnvelope struct {
	XMLName xml.Name `xml:"xml"`
	Encrypt string   `xml:"Encrypt"`
}

// DecryptMsg handles the message path: it parses the posted envelope,
// authenticates the ciphertext and returns the decrypted message XML.
func (m *MsgCrypt) DecryptMsg(msgSignature, timestamp, nonce string, postData []byte) ([]byte, error) {
	var env encryptedEnvelope
	if err := xml.Unmarshal(postData, &env); err != nil {
		return nil, newError(CodeParseXML, err)
	}
	if env.Encrypt == "" {
		return nil, newError(CodeParseXML, fmt.Errorf("missing Encrypt element"))
	}
	if m.Signature(timestamp, nonce, env.Encrypt) != msgSignature {
		return nil, newError(CodeValidateSignature, nil)
	}
	return m.decrypt(env.Encrypt)
}

// EncryptMsg wraps a reply message into the signed, encrypted envelope the
// platform expects for active replies. Also used by tests to mint valid
// inbound ciphertext.
func (m *MsgCrypt) EncryptMsg(reply []byte, timestamp, nonce string) ([]byte, error) {
	ciphertext, err := m.encrypt(reply)
	if err != nil {
		return nil, err
	}
	signature := m.Signature(timestamp, nonce, ciphertext)
	out := fmt.Sprintf(
		"<xml><Encrypt><![CDATA[%s]]></Encrypt><MsgSignature><![CDATA[%s]]></MsgSignature><TimeStamp>%s</TimeStamp><Nonce><![CDATA[%s]]></Nonce></xml>",
		ciphertext, signature, timestamp, nonce,
	)
	return []byte(out), nil
}

// Encrypt exposes the raw ciphertext of a plaintext payload, used to build
// handshake echo strings.
func (m *MsgCrypt) Encrypt(plain []byte) (string, error) {
	return m.encrypt(plain)
}

// Plaintext layout: 16 random bytes | 4-byte big-endian length | message |
// receiver id, PKCS#7 padded to 32-byte blocks.
func (m *MsgCrypt) decrypt(ciphertext string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, newError(CodeDecodeBase64, err)
	}
	if len(raw) < aes.BlockSize || len(raw)%aes.BlockSize != 0 {
		return nil, newError(CodeDecryptAES, fmt.Errorf("ciphertext length %d", len(raw)))
	}
	block, err := aes.NewCipher(m.key)
	if err != nil {
		return nil, newError(CodeDecryptAES, err)
	}
	buf := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, m.key[:aes.BlockSize]).CryptBlocks(buf, raw)

	buf, err = pkcs7Unpad(buf)
	if err != nil {
		return nil, newError(CodeIllegalBuffer, err)
	}
	if len(buf) < 20 {
		return nil, newError(CodeIllegalBuffer, fmt.Errorf("buffer too short: %d", len(buf)))
	}
	msgLen := binary.BigEndian.Uint32(buf[16:20])
	if int(msgLen) > len(buf)-20 {
		return nil, newError(CodeIllegalBuffer, fmt.Errorf("declared length %d exceeds buffer", msgLen))
	}
	msg := buf[20 : 20+msgLen]
	receiver := string(buf[20+msgLen:])
	if receiver != m.receiverID {
		return nil, newError(CodeValidateReceiverID, fmt.Errorf("got %q", receiver))
	}
	return msg, nil
}

func (m *MsgCrypt) encrypt(plain []byte) (string, error) {
	randPrefix := make([]byte, 16)
	if _, err := rand.Read(randPrefix); err != nil {
		return "", newError(CodeEncryptAES, err)
	}

	buf := make([]byte, 0, 20+len(plain)+len(m.receiverID)+32)
	buf = append(buf, randPrefix...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(plain)))
	buf = append(buf, plain...)
	buf = append(buf, []byte(m.receiverID)...)
	buf = pkcs7Pad(buf, 32)

	block, err := aes.NewCipher(m.key)
	if err != nil {
		return "", newError(CodeEncryptAES, err)
	}
	out := make([]byte, len(buf))
	cipher.NewCBCEncrypter(block, m.key[:aes.BlockSize]).CryptBlocks(out, buf)
	return base64.StdEncoding.EncodeToString(out), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	if n == 0 {
		n = blockSize
	}
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty buffer")
	}
	n := int(data[len(data)-1])
	if n < 1 || n > 32 || n > len(data) {
		return nil, fmt.Errorf("invalid padding %d", n)
	}
	return data[:len(data)-n], nil
}
