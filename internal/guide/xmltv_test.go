package guide

import (
	"strings"
	"testing"
)

const sampleXMLTV = `<?xml version="1.0" encoding="UTF-8" ?>
<tv>
  <channel id="ABCD.ca">
    <display-name>ABCD</display-name>
    <icon src="http://logo/abcd.png"/>
  </channel>
  <channel id="WXYZ.ca">
    <display-name>WXYZ</display-name>
  </channel>
  <programme start="20260301120000 0000" stop="20260301130000 0000" channel="ABCD.ca">
    <title lang="en">Noon News</title>
    <desc lang="en">Headlines &amp; weather</desc>
    <category lang="en">News</category>
  </programme>
</tv>
`

func TestParseXMLTV(t *testing.T) {
	g, err := ParseXMLTVString(sampleXMLTV)
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Channels) != 2 || len(g.Programmes) != 1 {
		t.Fatalf("parsed %d channels, %d programmes", len(g.Channels), len(g.Programmes))
	}
	ch := g.Channels[0]
	if ch.ID != "ABCD.ca" || ch.DisplayName != "ABCD" || ch.Icon == nil || ch.Icon.Src != "http://logo/abcd.png" {
		t.Errorf("channel = %+v", ch)
	}
	p := g.Programmes[0]
	if p.Channel != "ABCD.ca" || p.Start != "20260301120000 0000" {
		t.Errorf("programme = %+v", p)
	}
	if p.Title.Value != "Noon News" || p.Title.Lang != "en" {
		t.Errorf("title = %+v", p.Title)
	}
	if p.Description == nil || p.Description.Value != "Headlines & weather" {
		t.Errorf("description = %+v", p.Description)
	}
}

func TestParseXMLTV_malformed(t *testing.T) {
	if _, err := ParseXMLTVString("<tv><channel id='x'></tv>"); err == nil {
		t.Fatal("malformed document should fail")
	}
}

func TestMarshalXMLTV(t *testing.T) {
	g := Guide{
		Channels: []Channel{{ID: "ABCD.ca", DisplayName: "ABCD"}},
		Programmes: []Programme{{
			Start:   "20260301120000 0000",
			Stop:    "20260301130000 0000",
			Channel: "ABCD.ca",
			Title:   Text{Lang: "en", Value: "Fish & Chips"},
		}},
	}
	out, err := MarshalXMLTV(g)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, `<?xml version="1.0" encoding="UTF-8" ?>`) {
		t.Errorf("missing declaration: %q", out[:40])
	}
	if !strings.Contains(out, "Fish &amp; Chips") {
		t.Errorf("bare ampersand not escaped:\n%s", out)
	}
	if !strings.Contains(out, `<programme start="20260301120000 0000"`) {
		t.Errorf("programme attrs missing:\n%s", out)
	}
}

func TestMarshalXMLTV_roundTrip(t *testing.T) {
	g, err := ParseXMLTVString(sampleXMLTV)
	if err != nil {
		t.Fatal(err)
	}
	out, err := MarshalXMLTV(g)
	if err != nil {
		t.Fatal(err)
	}
	again, err := ParseXMLTVString(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(again.Channels) != len(g.Channels) || len(again.Programmes) != len(g.Programmes) {
		t.Fatalf("round trip changed counts: %+v", again)
	}
	if again.Programmes[0].Title != g.Programmes[0].Title {
		t.Errorf("title changed: %+v vs %+v", again.Programmes[0].Title, g.Programmes[0].Title)
	}
}
