package models

import (
	"strings"
	"testing"
	"time"
)

func TestInboundFrameKind(t *testing.T) {
	cases := map[string]FrameType{
		"welcome":       FrameWelcome,
		"ack":           FrameAck,
		"error":         FrameError,
		"message":       FrameData,
		"data":          FrameData,
		"pong":          FrameHeartbeatAck,
		"heartbeat-ack": FrameHeartbeatAck,
		" ACK ":         FrameAck,
		"notice":        FrameUnknown,
		"":              FrameUnknown,
	}
	for wire, want := range cases {
		if got := (InboundFrame{Type: wire}).Kind(); got != want {
			t.Errorf("Kind(%q) = %q, want %q", wire, got, want)
		}
	}
}

func TestCredentialStringHidesSecret(t *testing.T) {
	c := Credential{APIKey: "abcdef123456", APISecret: "topsecret", Passphrase: "pp"}
	s := c.String()
	if strings.Contains(s, "topsecret") || strings.Contains(s, "pp}") {
		t.Fatalf("credential string leaks secret material: %s", s)
	}
	if !strings.HasSuffix(s, "3456}") {
		t.Fatalf("expected key suffix in %q", s)
	}
	if !c.Complete() {
		t.Fatal("expected complete credential")
	}
	var nilCred *Credential
	if nilCred.Complete() {
		t.Fatal("nil credential reported complete")
	}
}

func TestEventKeys(t *testing.T) {
	ts := time.UnixMilli(1700000000000).UTC()
	cases := []struct {
		event  NormalizedEvent
		family Family
		key    string
	}{
		{TickerUpdate{Symbol: "BTC_USDT", MarketTime: ts}, FamilyTicker, "BTC_USDT"},
		{PositionUpdate{Symbol: "BTC_USDT", Side: "long", Timestamp: ts}, FamilyPosition, "BTC_USDT|long"},
		{OrderUpdate{OrderID: "o-1", Timestamp: ts}, FamilyOrder, "o-1"},
		{TradeExecution{TradeID: "t-1", OrderID: "o-1", Timestamp: ts}, FamilyTradeExecution, "o-1"},
		{AccountUpdate{AccountID: "USDT", Timestamp: ts}, FamilyAccount, "USDT"},
	}
	for _, tc := range cases {
		if tc.event.Family() != tc.family {
			t.Errorf("family = %q, want %q", tc.event.Family(), tc.family)
		}
		if tc.event.Key() != tc.key {
			t.Errorf("%s key = %q, want %q", tc.family, tc.event.Key(), tc.key)
		}
		if !tc.event.EventTime().Equal(ts) {
			t.Errorf("%s event time = %v", tc.family, tc.event.EventTime())
		}
	}
}

func TestLookupTopic(t *testing.T) {
	cases := []struct {
		topic   string
		family  Family
		ok      bool
		private bool
	}{
		{"ticker:BTC_USDT", FamilyTicker, true, false},
		{"orderbook-diff:ETH_USDT", FamilyOrderBook, true, false},
		{"orderbook_lv2:ETH_USDT", FamilyOrderBook, true, false},
		{"execution:BTC_USDT", FamilyTrade, true, false},
		{"funding:BTC_USDT", FamilyFunding, true, false},
		{"wallet", FamilyAccount, true, true},
		{"position", FamilyPosition, true, true},
		{"position:BTC_USDT", FamilyPosition, true, true},
		{"orders", FamilyOrder, true, true},
		{"trades", FamilyTradeExecution, true, true},
		{"candles:BTC_USDT", "", false, false},
		{"", "", false, false},
	}
	for _, tc := range cases {
		family, ok := LookupTopic(tc.topic)
		if ok != tc.ok || family != tc.family {
			t.Errorf("LookupTopic(%q) = %q, %v; want %q, %v", tc.topic, family, ok, tc.family, tc.ok)
		}
		if got := IsPrivateTopic(tc.topic); got != tc.private {
			t.Errorf("IsPrivateTopic(%q) = %v", tc.topic, got)
		}
	}
}

func TestMarketTopic(t *testing.T) {
	topic := MarketTopic(SubChannelTicker, "BTC_USDT")
	if topic != "ticker:BTC_USDT" {
		t.Fatalf("MarketTopic = %q", topic)
	}
	head, symbol := SplitTopic(topic)
	if head != "ticker" || symbol != "BTC_USDT" {
		t.Fatalf("SplitTopic = %q, %q", head, symbol)
	}
}
