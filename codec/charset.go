package codec

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"

	"github.com/tomyedwab/fbdriver/dberr"
)

// Charset is a connection or column character set.
type Charset struct {
	ID           int16
	Name         string
	BytesPerChar int
	// enc is nil for character sets stored as raw bytes or UTF-8.
	enc encoding.Encoding
	// utf8 marks character sets whose bytes are already UTF-8.
	utf8 bool
}

var charsets = []*Charset{
	{ID: 0, Name: "NONE", BytesPerChar: 1},
	{ID: 1, Name: "OCTETS", BytesPerChar: 1},
	{ID: 2, Name: "ASCII", BytesPerChar: 1},
	{ID: 3, Name: "UNICODE_FSS", BytesPerChar: 3, utf8: true},
	{ID: 4, Name: "UTF8", BytesPerChar: 4, utf8: true},
	{ID: 5, Name: "SJIS_0208", BytesPerChar: 2, enc: japanese.ShiftJIS},
	{ID: 6, Name: "EUCJ_0208", BytesPerChar: 2, enc: japanese.EUCJP},
	{ID: 10, Name: "DOS437", BytesPerChar: 1, enc: charmap.CodePage437},
	{ID: 11, Name: "DOS850", BytesPerChar: 1, enc: charmap.CodePage850},
	{ID: 12, Name: "DOS865", BytesPerChar: 1, enc: charmap.CodePage865},
	{ID: 13, Name: "DOS860", BytesPerChar: 1, enc: charmap.CodePage860},
	{ID: 14, Name: "DOS863", BytesPerChar: 1, enc: charmap.CodePage863},
	{ID: 16, Name: "DOS858", BytesPerChar: 1, enc: charmap.CodePage858},
	{ID: 17, Name: "DOS862", BytesPerChar: 1, enc: charmap.CodePage862},
	{ID: 21, Name: "ISO8859_1", BytesPerChar: 1, enc: charmap.ISO8859_1},
	{ID: 22, Name: "ISO8859_2", BytesPerChar: 1, enc: charmap.ISO8859_2},
	{ID: 23, Name: "ISO8859_3", BytesPerChar: 1, enc: charmap.ISO8859_3},
	{ID: 34, Name: "ISO8859_4", BytesPerChar: 1, enc: charmap.ISO8859_4},
	{ID: 35, Name: "ISO8859_5", BytesPerChar: 1, enc: charmap.ISO8859_5},
	{ID: 36, Name: "ISO8859_6", BytesPerChar: 1, enc: charmap.ISO8859_6},
	{ID: 37, Name: "ISO8859_7", BytesPerChar: 1, enc: charmap.ISO8859_7},
	{ID: 38, Name: "ISO8859_8", BytesPerChar: 1, enc: charmap.ISO8859_8},
	{ID: 39, Name: "ISO8859_9", BytesPerChar: 1, enc: charmap.ISO8859_9},
	{ID: 40, Name: "ISO8859_13", BytesPerChar: 1, enc: charmap.ISO8859_13},
	{ID: 44, Name: "KSC_5601", BytesPerChar: 2, enc: korean.EUCKR},
	{ID: 45, Name: "DOS852", BytesPerChar: 1, enc: charmap.CodePage852},
	{ID: 48, Name: "DOS866", BytesPerChar: 1, enc: charmap.CodePage866},
	{ID: 51, Name: "WIN1250", BytesPerChar: 1, enc: charmap.Windows1250},
	{ID: 52, Name: "WIN1251", BytesPerChar: 1, enc: charmap.Windows1251},
	{ID: 53, Name: "WIN1252", BytesPerChar: 1, enc: charmap.Windows1252},
	{ID: 54, Name: "WIN1253", BytesPerChar: 1, enc: charmap.Windows1253},
	{ID: 55, Name: "WIN1254", BytesPerChar: 1, enc: charmap.Windows1254},
	{ID: 56, Name: "BIG_5", BytesPerChar: 2, enc: traditionalchinese.Big5},
	{ID: 57, Name: "GB_2312", BytesPerChar: 2, enc: simplifiedchinese.GBK},
	{ID: 58, Name: "WIN1255", BytesPerChar: 1, enc: charmap.Windows1255},
	{ID: 59, Name: "WIN1256", BytesPerChar: 1, enc: charmap.Windows1256},
	{ID: 60, Name: "WIN1257", BytesPerChar: 1, enc: charmap.Windows1257},
	{ID: 63, Name: "KOI8R", BytesPerChar: 1, enc: charmap.KOI8R},
	{ID: 64, Name: "KOI8U", BytesPerChar: 1, enc: charmap.KOI8U},
	{ID: 65, Name: "WIN1258", BytesPerChar: 1, enc: charmap.Windows1258},
	{ID: 66, Name: "TIS620", BytesPerChar: 1, enc: charmap.Windows874},
	{ID: 67, Name: "GBK", BytesPerChar: 2, enc: simplifiedchinese.GBK},
	{ID: 69, Name: "GB18030", BytesPerChar: 4, enc: simplifiedchinese.GB18030},
}

var (
	charsetsByID   = map[int16]*Charset{}
	charsetsByName = map[string]*Charset{}
)

func init() {
	for _, cs := range charsets {
		charsetsByID[cs.ID] = cs
		charsetsByName[cs.Name] = cs
	}
	charsetsByName["UNICODE"] = charsetsByName["UTF8"]
	charsetsByName["UTF-8"] = charsetsByName["UTF8"]
	charsetsByName["BINARY"] = charsetsByName["OCTETS"]
	charsetsByName["SJIS"] = charsetsByName["SJIS_0208"]
	charsetsByName["EUCJ"] = charsetsByName["EUCJ_0208"]
	charsetsByName["LATIN1"] = charsetsByName["ISO8859_1"]
}

// Raw is the character set used when none is configured.
var Raw = charsets[0]

// LookupCharset finds a character set by name, case-insensitively.
// An empty name yields NONE.
func LookupCharset(name string) (*Charset, error) {
	if name == "" {
		return Raw, nil
	}
	if cs, ok := charsetsByName[strings.ToUpper(name)]; ok {
		return cs, nil
	}
	return nil, dberr.NewInterfaceError("unsupported character set %q", name)
}

// CharsetByID finds a character set by its engine id.
func CharsetByID(id int16) (*Charset, bool) {
	cs, ok := charsetsByID[id]
	return cs, ok
}

// Binary reports whether text in this character set is exchanged as raw bytes.
func (c *Charset) Binary() bool {
	return c.ID == 1
}

// Decode converts bytes read from the engine into a Go string.
func (c *Charset) Decode(b []byte) (string, error) {
	if c == nil || c.enc == nil {
		if c != nil && c.utf8 && !utf8.Valid(b) {
			return "", dberr.NewDataError("invalid %s byte sequence", c.Name)
		}
		return string(b), nil
	}
	out, err := c.enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", dberr.NewDataErrorWithCause(err, "cannot decode %s text", c.Name)
	}
	return string(out), nil
}

// Encode converts a Go string into bytes for the engine.
func (c *Charset) Encode(s string) ([]byte, error) {
	if c == nil || c.enc == nil {
		if c != nil && c.ID == 2 {
			for i := 0; i < len(s); i++ {
				if s[i] >= utf8.RuneSelf {
					return nil, dberr.NewDataError("%q cannot be represented in ASCII", s)
				}
			}
		}
		return []byte(s), nil
	}
	out, err := c.enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, dberr.NewDataErrorWithCause(err, "cannot encode text as %s", c.Name)
	}
	return out, nil
}
