// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"

	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/iana"
	"github.com/jcmturner/gokrb5/v8/iana/etypeID"
	"github.com/jcmturner/gokrb5/v8/iana/keyusage"
	"github.com/jcmturner/gokrb5/v8/iana/msgtype"
	"github.com/jcmturner/gokrb5/v8/iana/nametype"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/test/testdata"
	"github.com/jcmturner/gokrb5/v8/types"
)

// Sample data from MIT Kerberos v1.19.1

// from src/tests/asn.1/ktest.h
const (
	SampleUsec          = 123456
	SampleSeqNumber     = 17
	SampleFlags         = 0xFEDCBA98
	SampleError         = 0x3C
	SamplePrincipalName = "hftsai/extra@ATHENA.MIT.EDU"
	SampleData          = "krb5data"
)

func ktestMakeSampleApRepEncPart() encAPRepPart {
	tm, _ := time.Parse(testdata.TEST_TIME_FORMAT, testdata.TEST_TIME)
	return encAPRepPart{
		CTime:          tm,
		Cusec:          SampleUsec,
		Subkey:         ktestMakeSampleKeyblock(),
		SequenceNumber: SampleSeqNumber,
	}
}

func ktestMakeSampleKeyblock() types.EncryptionKey {
	kv := []byte("12345678")
	return types.EncryptionKey{
		KeyType:  1,
		KeyValue: kv,
	}
}

func ktestMakeSampleEncData() types.EncryptedData {
	return types.EncryptedData{
		EType:  0,
		KVNO:   5,
		Cipher: []byte(testdata.TEST_CIPHERTEXT),
	}
}

func ktestMakeSampleTicket() messages.Ticket {
	pn, realm := types.ParseSPNString(SamplePrincipalName)
	return messages.Ticket{
		TktVNO:  5,
		Realm:   realm,
		SName:   pn,
		EncPart: ktestMakeSampleEncData(),
	}
}

func ktestMakeSampleApReq() (apreq messages.APReq) {
	apreq = messages.APReq{
		PVNO:                   5,
		MsgType:                msgtype.KRB_AP_REQ,
		APOptions:              types.NewKrbFlags(),
		Ticket:                 ktestMakeSampleTicket(),
		EncryptedAuthenticator: ktestMakeSampleEncData(),
	}

	binary.BigEndian.PutUint32(apreq.APOptions.Bytes[0:], SampleFlags)
	return
}

func ktestMakeSampleApRep() (aprep aPRep) {
	aprep = aPRep{
		PVNO:    5,
		MsgType: msgtype.KRB_AP_REP,
		EncPart: ktestMakeSampleEncData(),
	}

	return
}

func ktestMakeSampleError() (krberr messages.KRBError) {
	pn, realm := types.ParseSPNString(SamplePrincipalName)
	tm, _ := time.Parse(testdata.TEST_TIME_FORMAT, testdata.TEST_TIME)
	krberr = messages.KRBError{
		PVNO:      5,
		MsgType:   msgtype.KRB_ERROR,
		CTime:     tm,
		Cusec:     SampleUsec,
		STime:     tm,
		Susec:     SampleUsec,
		ErrorCode: SampleError,
		CRealm:    realm,
		CName:     pn,
		Realm:     realm,
		SName:     pn,
		EText:     SampleData,
		EData:     []byte(SampleData),
	}

	return
}

// newAPRep builds an AP-REP answering an authenticator
func newAPRep(sessionKey types.EncryptionKey, encpart encAPRepPart) (aPRep, error) {
	m, err := encpart.marshal()
	if err != nil {
		return aPRep{}, err
	}

	ed, err := crypto.GetEncryptedData(m, sessionKey, uint32(keyusage.AP_REP_ENCPART), 0)
	if err != nil {
		return aPRep{}, err
	}

	return aPRep{
		PVNO:    iana.PVNO,
		MsgType: msgtype.KRB_AP_REP,
		EncPart: ed,
	}, nil
}

func randomKey(keyType int32) types.EncryptionKey {
	et, err := crypto.GetEtype(keyType)
	if err != nil {
		panic(err)
	}

	kl := et.GetKeyByteSize()
	if keyType == etypeID.AES256_CTS_HMAC_SHA384_192 {
		kl = 32
	}

	b := make([]byte, kl)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}

	return types.EncryptionKey{KeyType: keyType, KeyValue: b}
}

// fakeTickets issues a ticket the test acceptor trusts without a KDC.  The
// ticket enc-part is opaque;  the acceptor shares the session key directly.
type fakeTickets struct {
	key types.EncryptionKey
	err error
	spn string
}

func (f *fakeTickets) GetServiceTicket(spn string) (messages.Ticket, types.EncryptionKey, error) {
	f.spn = spn
	if f.err != nil {
		return messages.Ticket{}, types.EncryptionKey{}, f.err
	}

	sname, realm := types.ParseSPNString(spn)
	if realm == "" {
		realm = "EXAMPLE.COM"
	}
	sname.NameType = nametype.KRB_NT_SRV_INST

	return messages.Ticket{
		TktVNO:  iana.PVNO,
		Realm:   realm,
		SName:   sname,
		EncPart: ktestMakeSampleEncData(),
	}, f.key, nil
}

func newFakeCredential(tickets ticketSource) *Credential {
	return &Credential{
		cname:    types.NewPrincipalName(nametype.KRB_NT_PRINCIPAL, "alice"),
		realm:    "EXAMPLE.COM",
		tickets:  tickets,
		lifetime: 10 * time.Hour,
	}
}

// testAcceptor is the service side of the handshake and message protection
type testAcceptor struct {
	sessionKey types.EncryptionKey
	subkey     *types.EncryptionKey
	seqNumber  int64

	authenticator types.Authenticator
	ourISN        uint64
	theirISN      uint64
}

// accept processes an AP-REQ token and returns the AP-REP token
func (a *testAcceptor) accept(in []byte) ([]byte, error) {
	var tok kRB5Token
	if err := tok.unmarshal(in); err != nil {
		return nil, err
	}
	if tok.aPReq == nil {
		return nil, errors.New("expected an AP-REQ")
	}

	if err := tok.aPReq.DecryptAuthenticator(a.sessionKey); err != nil {
		return nil, err
	}
	a.authenticator = tok.aPReq.Authenticator
	a.theirISN = uint64(a.authenticator.SeqNumber)
	a.ourISN = uint64(a.seqNumber)

	encpart := encAPRepPart{
		CTime:          a.authenticator.CTime,
		Cusec:          a.authenticator.Cusec,
		SequenceNumber: a.seqNumber,
	}
	if a.subkey != nil {
		encpart.Subkey = *a.subkey
	}

	rep, err := newAPRep(a.sessionKey, encpart)
	if err != nil {
		return nil, err
	}

	out := kRB5Token{
		oID:   oID(),
		tokID: tokenID(tokenIDKrbAPRep),
		aPRep: &rep,
	}

	return out.marshal()
}

func (a *testAcceptor) key() (types.EncryptionKey, tokenFlag) {
	if a.subkey != nil {
		return *a.subkey, tokenFlagAcceptorSubkey | tokenFlagSentByAcceptor
	}

	return a.sessionKey, tokenFlagSentByAcceptor
}

func (a *testAcceptor) peerKey(tokenFlag) (types.EncryptionKey, error) {
	k, _ := a.key()
	return k, nil
}

func (a *testAcceptor) sign(payload []byte, seq uint32) []byte {
	key, flags := a.key()
	mt := micToken{Flags: flags, SequenceNumber: a.ourISN + uint64(seq)}
	if err := mt.sign(payload, key); err != nil {
		panic(err)
	}

	return mt.marshal()
}

func (a *testAcceptor) verify(payload, token []byte, seq uint32) error {
	var mt micToken
	if err := mt.unmarshal(token); err != nil {
		return err
	}
	if mt.SequenceNumber != a.theirISN+uint64(seq) {
		return errors.New("bad sequence number")
	}

	key, _ := a.key()
	return mt.verify(payload, key, false)
}

func (a *testAcceptor) seal(plain []byte, seq uint32) (token, data []byte) {
	key, flags := a.key()
	token, data, err := wrapMessage(key, flags, a.ourISN+uint64(seq), plain)
	if err != nil {
		panic(err)
	}

	return token, data
}

func (a *testAcceptor) unseal(token, data []byte, seq uint32) ([]byte, error) {
	plain, seqNo, err := unwrapMessage(token, data, a.peerKey, false)
	if err != nil {
		return nil, err
	}
	if seqNo != a.theirISN+uint64(seq) {
		return nil, errors.New("bad sequence number")
	}

	return plain, nil
}
