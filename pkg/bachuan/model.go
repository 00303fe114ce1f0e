package bachuan

import "encoding/xml"

// xmlVersion is the version attribute stamped on every element this
// client emits.
const xmlVersion = "1.1"

// xmlDeclaration is prepended to every document this client serializes.
// encoding/xml's own xml.Header constant lacks the space before "?>" that
// the camera's XML parser (and every other BC client) expects, so this is
// spelled out explicitly rather than reused.
const xmlDeclaration = `<?xml version="1.0" encoding="UTF-8" ?>`

// loginUserXML is the <LoginUser> element of a modern login request.
type loginUserXML struct {
	XMLName  xml.Name `xml:"LoginUser"`
	Version  string   `xml:"version,attr"`
	UserName string   `xml:"userName"`
	Password string   `xml:"password"`
	UserVer  uint32   `xml:"userVer"`
}

// loginNetXML is the <LoginNet> element of a modern login request.
type loginNetXML struct {
	XMLName xml.Name `xml:"LoginNet"`
	Version string   `xml:"version,attr"`
	Type    string   `xml:"type"`
	UDPPort uint16   `xml:"udpPort"`
}

type loginRequestBody struct {
	XMLName   xml.Name     `xml:"body"`
	LoginUser loginUserXML `xml:"LoginUser"`
	LoginNet  loginNetXML  `xml:"LoginNet"`
}

// BuildLoginRequest serializes the modern login request body: hashed
// username and password (see HashCredential), wrapped with an empty LAN
// LoginNet element.
func BuildLoginRequest(hashedUsername, hashedPassword string) []byte {
	doc := loginRequestBody{
		LoginUser: loginUserXML{
			Version:  xmlVersion,
			UserName: hashedUsername,
			Password: hashedPassword,
			UserVer:  1,
		},
		LoginNet: loginNetXML{
			Version: xmlVersion,
			Type:    "LAN",
			UDPPort: 0,
		},
	}
	return marshalDocument(doc)
}

// previewXML is the <Preview> element sent to start or stop a video
// stream.
type previewXML struct {
	XMLName    xml.Name `xml:"Preview"`
	Version    string   `xml:"version,attr"`
	ChannelID  uint8    `xml:"channelId"`
	Handle     uint32   `xml:"handle"`
	StreamType string   `xml:"streamType"`
}

type previewBody struct {
	XMLName xml.Name   `xml:"body"`
	Preview previewXML `xml:"Preview"`
}

// BuildPreviewRequest serializes the Preview request body used for both
// VIDEO (start) and VIDEO_STOP (stop) messages.
func BuildPreviewRequest(channelID uint8, handle uint32, streamType string) []byte {
	doc := previewBody{
		Preview: previewXML{
			Version:    xmlVersion,
			ChannelID:  channelID,
			Handle:     handle,
			StreamType: streamType,
		},
	}
	return marshalDocument(doc)
}

func marshalDocument(v any) []byte {
	body, err := xml.Marshal(v)
	if err != nil {
		// Every document shape here is a fixed, valid struct; a marshal
		// failure would mean a programming error, not bad input.
		panic(err)
	}
	return append([]byte(xmlDeclaration), body...)
}

// EncryptionXML is the negotiation response carrying the login nonce.
type EncryptionXML struct {
	Version string
	Type    string
	Nonce   string
}

type encryptionElem struct {
	XMLName xml.Name `xml:"Encryption"`
	Version string   `xml:"version,attr"`
	Type    string   `xml:"type"`
	Nonce   string   `xml:"nonce"`
}

type encryptionBody struct {
	XMLName    xml.Name       `xml:"body"`
	Encryption encryptionElem `xml:"Encryption"`
}

// ParseEncryption extracts the Encryption element from a negotiation
// response, whether it is the document root or nested in a <body>.
func ParseEncryption(doc []byte) (EncryptionXML, error) {
	var elem encryptionElem
	if err := xml.Unmarshal(doc, &elem); err == nil && elem.Nonce != "" {
		return EncryptionXML{Version: elem.Version, Type: elem.Type, Nonce: elem.Nonce}, nil
	}

	var wrapped encryptionBody
	if err := xml.Unmarshal(doc, &wrapped); err == nil && wrapped.Encryption.Nonce != "" {
		e := wrapped.Encryption
		return EncryptionXML{Version: e.Version, Type: e.Type, Nonce: e.Nonce}, nil
	}

	return EncryptionXML{}, protocolErr("encryption XML missing nonce", nil)
}

// DeviceInfoXML is the subset of the post-login device info response this
// client surfaces to callers.
type DeviceInfoXML struct {
	Version          string
	ResolutionWidth  uint32
	ResolutionHeight uint32
}

type resolutionElem struct {
	Width  uint32 `xml:"width"`
	Height uint32 `xml:"height"`
}

type deviceInfoElem struct {
	XMLName    xml.Name       `xml:"DeviceInfo"`
	Version    string         `xml:"version,attr"`
	Resolution resolutionElem `xml:"resolution"`
}

type deviceInfoBody struct {
	XMLName    xml.Name       `xml:"body"`
	DeviceInfo deviceInfoElem `xml:"DeviceInfo"`
}

// ParseDeviceInfo extracts DeviceInfo from a login-success response. An
// empty or absent document yields a zero-value DeviceInfoXML with no
// error — the camera is not required to include one.
func ParseDeviceInfo(doc []byte) DeviceInfoXML {
	if len(doc) == 0 {
		return DeviceInfoXML{}
	}

	var elem deviceInfoElem
	if err := xml.Unmarshal(doc, &elem); err == nil && elem.XMLName.Local == "DeviceInfo" {
		return DeviceInfoXML{
			Version:          elem.Version,
			ResolutionWidth:  elem.Resolution.Width,
			ResolutionHeight: elem.Resolution.Height,
		}
	}

	var wrapped deviceInfoBody
	if err := xml.Unmarshal(doc, &wrapped); err == nil {
		d := wrapped.DeviceInfo
		return DeviceInfoXML{
			Version:          d.Version,
			ResolutionWidth:  d.Resolution.Width,
			ResolutionHeight: d.Resolution.Height,
		}
	}

	return DeviceInfoXML{}
}

// ExtensionXML is the metadata document carried in a message's Extension
// region, announcing whether the accompanying Payload is binary media and
// (for FullAes) how many of its leading bytes are encrypted.
type ExtensionXML struct {
	BinaryData bool
	HasBinary  bool
	EncryptLen uint32
	HasEncrypt bool
	ChannelID  uint8
	UserName   string
	Token      string
}

type extensionElem struct {
	XMLName    xml.Name `xml:"Extension"`
	Version    string   `xml:"version,attr"`
	BinaryData *uint32  `xml:"binaryData"`
	UserName   *string  `xml:"userName"`
	Token      *string  `xml:"token"`
	ChannelID  *uint8   `xml:"channelId"`
	EncryptLen *uint32  `xml:"encryptLen"`
}

// ParseExtension decodes an Extension document. It tolerates malformed or
// partial XML by returning the zero value rather than an error: the
// transport's own binaryData/encryptLen substring scan (see connection.go)
// is what gates decryption decisions on the hot path, and this parse is
// used only to surface a structured view to the stream layer.
func ParseExtension(doc []byte) ExtensionXML {
	var elem extensionElem
	if err := xml.Unmarshal(doc, &elem); err != nil {
		return ExtensionXML{}
	}

	out := ExtensionXML{}
	if elem.BinaryData != nil {
		out.HasBinary = true
		out.BinaryData = *elem.BinaryData == 1
	}
	if elem.EncryptLen != nil {
		out.HasEncrypt = true
		out.EncryptLen = *elem.EncryptLen
	}
	if elem.ChannelID != nil {
		out.ChannelID = *elem.ChannelID
	}
	if elem.UserName != nil {
		out.UserName = *elem.UserName
	}
	if elem.Token != nil {
		out.Token = *elem.Token
	}
	return out
}
