package guide

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

// Channel is one guide channel, unique per source by ID.
type Channel struct {
	ID          string `xml:"id,attr" json:"channelId"`
	DisplayName string `xml:"display-name" json:"displayName"`
	Icon        *Icon  `xml:"icon,omitempty" json:"icon,omitempty"`
}

// Icon is a channel or programme artwork reference.
type Icon struct {
	Src string `xml:"src,attr" json:"src"`
}

// Text is a language-tagged text value (title, description, category).
type Text struct {
	Lang  string `xml:"lang,attr,omitempty" json:"lang,omitempty"`
	Value string `xml:",chardata" json:"text"`
}

// Programme is one schedule slot. (Channel, Start) is the slot key, unique
// within a source. Start and Stop keep the source's raw timestamp text; use
// ParseDate for the structured form.
type Programme struct {
	Start       string `xml:"start,attr" json:"start"`
	Stop        string `xml:"stop,attr" json:"stop"`
	Channel     string `xml:"channel,attr" json:"channelId"`
	Title       Text   `xml:"title" json:"title"`
	Description *Text  `xml:"desc,omitempty" json:"description,omitempty"`
	Category    *Text  `xml:"category,omitempty" json:"category,omitempty"`
}

// Guide is the parsed channel/programme content of one XMLTV source.
type Guide struct {
	Channels   []Channel   `xml:"channel" json:"channels"`
	Programmes []Programme `xml:"programme" json:"programmes"`
}

type xmlTV struct {
	XMLName    xml.Name    `xml:"tv"`
	Channels   []Channel   `xml:"channel"`
	Programmes []Programme `xml:"programme"`
}

// xmltvHeader matches the declaration emitted by the original feed tooling,
// including the space before the closing marker.
const xmltvHeader = `<?xml version="1.0" encoding="UTF-8" ?>` + "\n"

// ParseXMLTV decodes one XMLTV document. Non-UTF-8 declared encodings are
// converted while reading. Malformed XML fails the whole parse.
func ParseXMLTV(r io.Reader) (Guide, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel
	var tv xmlTV
	if err := dec.Decode(&tv); err != nil {
		return Guide{}, fmt.Errorf("guide: parse xmltv: %w", err)
	}
	return Guide{Channels: tv.Channels, Programmes: tv.Programmes}, nil
}

// ParseXMLTVString is ParseXMLTV over an in-memory document.
func ParseXMLTVString(s string) (Guide, error) {
	return ParseXMLTV(strings.NewReader(s))
}

// MarshalXMLTV serializes channels then programmes under a single <tv> root.
// Text content is entity-escaped by the encoder, covering bare ampersands in
// titles and descriptions.
func MarshalXMLTV(g Guide) (string, error) {
	tv := xmlTV{Channels: g.Channels, Programmes: g.Programmes}
	var sb strings.Builder
	sb.WriteString(xmltvHeader)
	enc := xml.NewEncoder(&sb)
	enc.Indent("", "  ")
	if err := enc.Encode(tv); err != nil {
		return "", fmt.Errorf("guide: marshal xmltv: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	sb.WriteString("\n")
	return sb.String(), nil
}
