package bachuan

import (
	"time"

	"github.com/HowardsPlayPen/bachuan/internal/bclog"
)

// MaxEncryption caps which cipher this client will request during login
// negotiation. The camera may still reply with a lower tier than asked
// for; it never replies with a higher one.
type MaxEncryption int

const (
	MaxEncryptionNone MaxEncryption = iota
	MaxEncryptionBcXor
	MaxEncryptionAES
)

// LoginResult is what a successful (or failed) Login call reports.
type LoginResult struct {
	DeviceInfo     DeviceInfoXML
	EncryptionType EncryptionType
}

// negotiationAttempts bounds how many unsolicited messages Login will skip
// while waiting for the camera's actual negotiation/login reply. Cameras
// occasionally interleave messages like MOTION during this exchange.
const negotiationAttempts = 5

const negotiationTimeout = 10 * time.Second

// Login runs the three-step BC authentication handshake over conn: a
// legacy login to negotiate the cipher and obtain a nonce, installation of
// a transient BcXor cipher whenever any encryption was negotiated (used for
// the login exchange itself even when AES or FullAes was negotiated; an
// Unencrypted negotiation installs no cipher), a modern login carrying
// hashed credentials, and
// finally promotion to AES/FullAes if that is what the camera negotiated.
func Login(conn *Connection, username, password string, max MaxEncryption) (LoginResult, error) {
	loginMsgNum := conn.NextMsgNum()

	bclog.Infof("starting login for user %q (max encryption %v)", username, max)

	if err := sendLegacyLogin(conn, loginMsgNum, max); err != nil {
		return LoginResult{}, err
	}

	negotiatedType, nonce, err := receiveNegotiation(conn)
	if err != nil {
		return LoginResult{}, err
	}
	bclog.Infof("encryption negotiated: %v, nonce=%s", negotiatedType, nonce)

	var aesKey [16]byte
	useAESAfterLogin := false
	useFullAES := false

	switch negotiatedType {
	case BcXor:
		conn.SetCipher(bcXorCipher())
	case Aes, FullAes:
		aesKey = DeriveAESKey(password, nonce)
		useAESAfterLogin = true
		useFullAES = negotiatedType == FullAes
		conn.SetCipher(bcXorCipher())
	}
	conn.ResetOffsets()

	if err := sendModernLogin(conn, loginMsgNum, username, password, nonce); err != nil {
		return LoginResult{}, err
	}

	deviceInfo, err := receiveLoginResponse(conn)
	if err != nil {
		return LoginResult{}, err
	}

	if useAESAfterLogin {
		var cipher Cipher
		var setErr error
		if useFullAES {
			setErr = cipher.SetFullAES(aesKey)
			bclog.Infof("switched to FullAes encryption")
		} else {
			setErr = cipher.SetAES(aesKey)
			bclog.Infof("switched to AES encryption")
		}
		if setErr != nil {
			return LoginResult{}, setErr
		}
		conn.SetCipher(cipher)
		conn.ResetOffsets()
	}

	bclog.Infof("login successful")
	return LoginResult{DeviceInfo: deviceInfo, EncryptionType: negotiatedType}, nil
}

func bcXorCipher() Cipher {
	var c Cipher
	c.SetBcXor()
	return c
}

func sendLegacyLogin(conn *Connection, msgNum uint16, max MaxEncryption) error {
	var responseCode uint16
	switch max {
	case MaxEncryptionNone:
		responseCode = EncReqNone
	case MaxEncryptionBcXor:
		responseCode = EncReqBC
	case MaxEncryptionAES:
		responseCode = EncReqAES
	}

	msg := NewHeaderOnlyMessage(MsgIDLogin, msgNum, ClassLegacy)
	msg.Header.ResponseCode = responseCode
	if err := conn.Send(msg); err != nil {
		return err
	}
	return nil
}

// receiveNegotiation waits for the camera's encryption-negotiation reply,
// skipping any unsolicited messages the camera sends in the meantime.
func receiveNegotiation(conn *Connection) (EncryptionType, string, error) {
	msg, err := receiveSkippingUnsolicited(conn, MsgIDLogin)
	if err != nil {
		return Unencrypted, "", err
	}

	resp := msg.Header.ResponseCode
	respHigh := byte(resp >> 8)
	respLow := byte(resp)

	var negotiated EncryptionType
	if respHigh == 0xdd {
		switch respLow {
		case 0x00:
			negotiated = Unencrypted
		case 0x01:
			negotiated = BcXor
		case 0x02:
			negotiated = Aes
		case 0x12:
			negotiated = FullAes
		default:
			bclog.Warnf("unknown encryption response code 0x%04x", resp)
			negotiated = Unencrypted
		}
	} else {
		return Unencrypted, "", protocolErr("malformed negotiation response code", nil)
	}

	payload := msg.Payload
	if negotiated != Unencrypted && len(payload) > 0 {
		var temp Cipher
		temp.SetBcXor()
		decrypted, err := temp.Decrypt(0, payload)
		if err != nil {
			return Unencrypted, "", err
		}
		payload = decrypted
	}

	if len(payload) == 0 {
		return Unencrypted, "", authErr("no payload in encryption negotiation response", nil)
	}

	enc, err := ParseEncryption(payload)
	if err != nil {
		return Unencrypted, "", err
	}

	return negotiated, enc.Nonce, nil
}

func sendModernLogin(conn *Connection, msgNum uint16, username, password, nonce string) error {
	hashedUsername := HashCredential(username, nonce)
	hashedPassword := HashCredential(password, nonce)

	xml := BuildLoginRequest(hashedUsername, hashedPassword)
	msg := NewPayloadMessage(MsgIDLogin, msgNum, xml, ClassModern24)
	return conn.Send(msg)
}

func receiveLoginResponse(conn *Connection) (DeviceInfoXML, error) {
	msg, err := receiveSkippingUnsolicited(conn, MsgIDLogin)
	if err != nil {
		return DeviceInfoXML{}, err
	}

	if msg.Header.ResponseCode != ResponseCodeOK {
		return DeviceInfoXML{}, newAuthError("login rejected", msg.Header.ResponseCode)
	}

	return ParseDeviceInfo(msg.Payload), nil
}

// receiveSkippingUnsolicited reads messages until one with the wanted
// msg_id arrives, up to negotiationAttempts tries. Some cameras interleave
// unsolicited messages (e.g. MOTION) with the login exchange.
func receiveSkippingUnsolicited(conn *Connection, wantMsgID uint32) (*Message, error) {
	var last error
	for attempt := 0; attempt < negotiationAttempts; attempt++ {
		msg, err := conn.Receive(negotiationTimeout)
		if err != nil {
			last = err
			continue
		}
		if msg.Header.MsgID == wantMsgID {
			return msg, nil
		}
		bclog.Debugf("skipping unexpected message id %d during login", msg.Header.MsgID)
	}
	if last != nil {
		return nil, last
	}
	return nil, authErr("did not receive expected response after retries", nil)
}
