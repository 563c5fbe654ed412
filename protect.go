// SPDX-License-Identifier: Apache-2.0

package sspi

// EncryptedMessage is the result of [ClientContext.EncryptMessage]: the
// signature and the buffers holding the ciphertext.
type EncryptedMessage struct {
	Signature []byte
	Buffers   BufferSet
}

// Data returns the concatenated ciphertext
func (m *EncryptedMessage) Data() []byte {
	return m.Buffers.Data()
}

// MakeSignature returns a signature over msg using sequence number seq.
func (c *ClientContext) MakeSignature(msg []byte, seq uint32) ([]byte, error) {
	if err := c.established(); err != nil {
		return nil, err
	}

	sizes, err := c.Sizes()
	if err != nil {
		return nil, err
	}

	bs := BufferSet{
		{Type: BufferData, ReadOnly: true, Data: msg},
		{Type: BufferToken, Data: make([]byte, sizes.MaxSignature)},
	}

	if err := c.MakeSignatureBuffers(bs, seq); err != nil {
		return nil, err
	}

	return bs[1].Data, nil
}

// MakeSignatureBuffers signs the data segments of bs, read-only segments
// included, and writes the signature into its token segment, which must be
// writable.
func (c *ClientContext) MakeSignatureBuffers(bs BufferSet, seq uint32) error {
	if err := c.established(); err != nil {
		return err
	}
	i := bs.Index(BufferToken)
	if i < 0 {
		return ErrNoTokenBuffer
	}
	if bs[i].ReadOnly {
		return ErrReadOnlyToken
	}

	status, err := c.provider.MakeSignature(c.res.handle, bs, seq)
	if err != nil || status.IsError() {
		return providerError("MakeSignature", status, err)
	}

	return nil
}

// VerifySignature checks sig against msg and sequence number seq.  A
// signature or sequence number that does not match yields false and a nil
// error;  an error is returned only when the check could not be performed.
func (c *ClientContext) VerifySignature(msg, sig []byte, seq uint32) (bool, error) {
	bs := BufferSet{
		{Type: BufferData, ReadOnly: true, Data: msg},
		{Type: BufferToken, ReadOnly: true, Data: sig},
	}

	return c.VerifySignatureBuffers(bs, seq)
}

// VerifySignatureBuffers checks the token segment of bs against its data
// segments, with the same result convention as VerifySignature.
func (c *ClientContext) VerifySignatureBuffers(bs BufferSet, seq uint32) (bool, error) {
	if err := c.established(); err != nil {
		return false, err
	}
	if bs.Index(BufferToken) < 0 {
		return false, ErrNoTokenBuffer
	}

	status, err := c.provider.VerifySignature(c.res.handle, bs, seq)
	switch {
	case status == StatusMessageAltered, status == StatusOutOfSequence:
		c.log.Debug("signature mismatch", logKeyStatus, status.String())
		return false, nil
	case err != nil, status.IsError():
		return false, providerError("VerifySignature", status, err)
	}

	return true, nil
}

// EncryptMessage encrypts a copy of msg using sequence number seq.  msg is
// not modified.
func (c *ClientContext) EncryptMessage(msg []byte, seq uint32) (*EncryptedMessage, error) {
	if err := c.established(); err != nil {
		return nil, err
	}

	sizes, err := c.Sizes()
	if err != nil {
		return nil, err
	}

	bs := BufferSet{
		{Type: BufferData, Data: append([]byte(nil), msg...)},
		{Type: BufferPadding, Data: make([]byte, sizes.BlockSize)},
	}

	sig, err := c.EncryptBuffers(bs, seq)
	if err != nil {
		return nil, err
	}

	return &EncryptedMessage{Signature: sig, Buffers: bs}, nil
}

// EncryptBuffers encrypts the writable data segments of bs in place using
// sequence number seq and returns the signature.  Read-only segments are
// covered by the signature but never encrypted.
//
// If bs has a token segment the signature is written there and it must be
// writable;  otherwise a signature buffer of the context's security trailer
// size is provisioned.
func (c *ClientContext) EncryptBuffers(bs BufferSet, seq uint32) ([]byte, error) {
	if err := c.established(); err != nil {
		return nil, err
	}

	var sigBuf []byte
	if i := bs.Index(BufferToken); i >= 0 && bs[i].ReadOnly {
		return nil, ErrReadOnlyToken
	} else if i < 0 {
		sizes, err := c.Sizes()
		if err != nil {
			return nil, err
		}
		sigBuf = make([]byte, sizes.SecurityTrailer)
	}

	work, tok := bs.withToken(sigBuf)

	status, err := c.provider.EncryptMessage(c.res.handle, work, seq)
	if err != nil || status.IsError() {
		return nil, providerError("EncryptMessage", status, err)
	}

	bs.adopt(work)

	return work[tok].Data, nil
}

// DecryptMessage decrypts em using sequence number seq and returns the
// plaintext.  em is not modified.  A signature or sequence mismatch is
// reported as an error matching [ErrVerificationMismatch].
func (c *ClientContext) DecryptMessage(em *EncryptedMessage, seq uint32) ([]byte, error) {
	if err := c.established(); err != nil {
		return nil, err
	}

	bs := em.Buffers.Clone()
	if err := c.DecryptBuffers(bs, em.Signature, seq); err != nil {
		return nil, err
	}

	return bs.Data(), nil
}

// DecryptBuffers decrypts the writable data segments of bs in place, checking
// them and the read-only segments against sig.
func (c *ClientContext) DecryptBuffers(bs BufferSet, sig []byte, seq uint32) error {
	if err := c.established(); err != nil {
		return err
	}

	work, _ := bs.withToken(append([]byte(nil), sig...))
	if i := bs.Index(BufferToken); i >= 0 && sig != nil {
		work[i].Data = append([]byte(nil), sig...)
	}

	status, err := c.provider.DecryptMessage(c.res.handle, work, seq)
	if err != nil || status.IsError() {
		perr := providerError("DecryptMessage", status, err)
		c.log.Debug("decryption failed", logKeyStatus, status.String(), logKeyError, perr)
		return perr
	}

	bs.adopt(work)

	return nil
}
