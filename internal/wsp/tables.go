package wsp

import "strings"

// Table maps between assigned numbers and their token strings. Linear
// tables index by wire number; numbered tables carry explicit pairs.
// String lookups are case-insensitive.
type Table struct {
	name  string
	byNum map[uint32]string
	byStr map[string]uint32
}

type pair struct {
	str string
	num uint32
}

func newLinear(name string, words []string) *Table {
	t := &Table{
		name:  name,
		byNum: make(map[uint32]string, len(words)),
		byStr: make(map[string]uint32, len(words)),
	}
	for i, w := range words {
		t.byNum[uint32(i)] = w
		t.byStr[strings.ToLower(w)] = uint32(i)
	}
	return t
}

func newNumbered(name string, pairs []pair) *Table {
	t := &Table{
		name:  name,
		byNum: make(map[uint32]string, len(pairs)),
		byStr: make(map[string]uint32, len(pairs)),
	}
	for _, p := range pairs {
		t.byNum[p.num] = p.str
		t.byStr[strings.ToLower(p.str)] = p.num
	}
	return t
}

// String resolves an assigned number to its token.
func (t *Table) String(num uint32) (string, bool) {
	s, ok := t.byNum[num]
	return s, ok
}

// Number resolves a token to its assigned number, ignoring case.
func (t *Table) Number(s string) (uint32, bool) {
	n, ok := t.byStr[strings.ToLower(s)]
	return n, ok
}

// FieldNames is the well-known header field-name table.
var FieldNames = newLinear("field name", []string{
	"Accept",
	"Accept-Charset",
	"Accept-Encoding",
	"Accept-Language",
	"Accept-Ranges",
	"Age",
	"Allow",
	"Authorization",
	"Cache-Control",
	"Connection",
	"Content-Base",
	"Content-Encoding",
	"Content-Language",
	"Content-Length",
	"Content-Location",
	"Content-MD5",
	"Content-Range",
	"Content-Type",
	"Date",
	"Etag",
	"Expires",
	"From",
	"Host",
	"If-Modified-Since",
	"If-Match",
	"If-None-Match",
	"If-Range",
	"If-Unmodified-Since",
	"Location",
	"Last-Modified",
	"Max-Forwards",
	"Pragma",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Public",
	"Range",
	"Referer",
	"Retry-After",
	"Server",
	"Transfer-Encoding",
	"Upgrade",
	"User-Agent",
	"Vary",
	"Via",
	"Warning",
	"WWW-Authenticate",
	"Content-Disposition",
})

// ContentTypes is the well-known content-type table.
var ContentTypes = newLinear("content type", []string{
	"*/*",
	"text/*",
	"text/html",
	"text/plain",
	"text/x-hdml",
	"text/x-ttml",
	"text/x-vCalendar",
	"text/x-vCard",
	"text/vnd.wap.wml",
	"text/vnd.wap.wmlscript",
	"text/vnd.wap.wta-event",
	"multipart/*",
	"multipart/mixed",
	"multipart/form-data",
	"multipart/byteranges",
	"multipart/alternative",
	"application/*",
	"application/java-vm",
	"application/x-www-form-urlencoded",
	"application/x-hdmlc",
	"application/vnd.wap.wmlc",
	"application/vnd.wap.wmlscriptc",
	"application/vnd.wap.wta-eventc",
	"application/vnd.wap.uaprof",
	"application/vnd.wap.wtls-ca-certificate",
	"application/vnd.wap.wtls-user-certificate",
	"application/x-x509-ca-cert",
	"application/x-x509-user-cert",
	"image/*",
	"image/gif",
	"image/jpeg",
	"image/tiff",
	"image/png",
	"image/vnd.wap.wbmp",
	"application/vnd.wap.multipart.*",
	"application/vnd.wap.multipart.mixed",
	"application/vnd.wap.multipart.form-data",
	"application/vnd.wap.multipart.byteranges",
	"application/vnd.wap.multipart.alternative",
	"application/xml",
	"text/xml",
	"application/vnd.wap.wbxml",
	"application/x-x968-cross-cert",
	"application/x-x968-ca-cert",
	"application/x-x968-user-cert",
	"text/vnd.wap.si",
	"application/vnd.wap.sic",
	"text/vnd.wap.sl",
	"application/vnd.wap.slc",
	"text/vnd.wap.co",
	"application/vnd.wap.coc",
})

// Charsets maps IANA charset names to their MIB numbers.
var Charsets = newNumbered("charset", []pair{
	{"us-ascii", 0x03},
	{"iso-8859-1", 0x04},
	{"iso-8859-2", 0x05},
	{"iso-8859-3", 0x06},
	{"iso-8859-4", 0x07},
	{"iso-8859-5", 0x08},
	{"iso-8859-6", 0x09},
	{"iso-8859-7", 0x0a},
	{"iso-8859-8", 0x0b},
	{"iso-8859-9", 0x0c},
	{"shift_jis", 0x11},
	{"utf-8", 0x6a},
	{"iso-10646-ucs-2", 0x03e8},
	{"big5", 0x07ea},
})

// Languages is a subset of the ISO 639 language table.
var Languages = newNumbered("language", []pair{
	{"da", 0x15},
	{"de", 0x16},
	{"el", 0x18},
	{"en", 0x19},
	{"es", 0x1b},
	{"fa", 0x1e},
	{"fi", 0x1f},
	{"fr", 0x22},
	{"it", 0x27},
	{"ja", 0x30},
	{"nl", 0x3d},
	{"pt", 0x41},
	{"ru", 0x47},
	{"sv", 0x50},
	{"zh", 0x5a},
})

// Methods maps method names to WSP method codes.
var Methods = newNumbered("method", []pair{
	{"GET", 0x40},
	{"OPTIONS", 0x41},
	{"HEAD", 0x42},
	{"DELETE", 0x43},
	{"TRACE", 0x44},
	{"POST", 0x60},
	{"PUT", 0x61},
})

// httpToWSPStatus is the HTTP to WSP status table. Unlisted codes map to
// the generic server error.
var httpToWSPStatus = map[int]uint8{
	100: 0x10, 101: 0x11,
	200: 0x20, 201: 0x21, 202: 0x22, 203: 0x23, 204: 0x24, 205: 0x25, 206: 0x26,
	300: 0x30, 301: 0x31, 302: 0x32, 303: 0x33, 304: 0x34, 305: 0x35,
	400: 0x40, 401: 0x41, 402: 0x42, 403: 0x43, 404: 0x44, 405: 0x45,
	406: 0x46, 407: 0x47, 408: 0x48, 409: 0x49, 410: 0x4a, 411: 0x4b,
	412: 0x4c, 413: 0x4d, 414: 0x4e, 415: 0x4f, 416: 0x50, 417: 0x51,
	500: 0x60, 501: 0x61, 502: 0x62, 503: 0x63, 504: 0x64, 505: 0x65,
}

// StatusServerError is the fallback for HTTP codes without a WSP number.
const StatusServerError uint8 = 0x60

// StatusOK is the WSP number for HTTP 200.
const StatusOK uint8 = 0x20

// MapStatus converts an HTTP status code to its WSP status number.
func MapStatus(httpStatus int) uint8 {
	if s, ok := httpToWSPStatus[httpStatus]; ok {
		return s
	}
	return StatusServerError
}
