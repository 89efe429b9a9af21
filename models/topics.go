package models

import "strings"

// Market sub-channels accepted by the public feed.
const (
	SubChannelTicker        = "ticker"
	SubChannelOrderBookDiff = "orderbook-diff"
	SubChannelExecution     = "execution"
	SubChannelFunding       = "funding"
)

// Private topics. They carry no symbol suffix.
const (
	TopicWallet   = "wallet"
	TopicPosition = "position"
	TopicOrders   = "orders"
	TopicTrades   = "trades"
)

// DefaultMarketChannels is subscribed when a caller names no sub-channel.
var DefaultMarketChannels = []string{SubChannelTicker, SubChannelOrderBookDiff, SubChannelExecution}

// DefaultPrivateTopics is subscribed when a caller names no private topic.
var DefaultPrivateTopics = []string{TopicWallet, TopicPosition, TopicOrders, TopicTrades}

type topicFamily struct {
	name    string
	family  Family
	private bool
}

// Ordered so that longer names win over their prefixes.
var topicFamilies = []topicFamily{
	{SubChannelOrderBookDiff, FamilyOrderBook, false},
	{"orderbook", FamilyOrderBook, false},
	{SubChannelTicker, FamilyTicker, false},
	{SubChannelExecution, FamilyTrade, false},
	{SubChannelFunding, FamilyFunding, false},
	{TopicWallet, FamilyAccount, true},
	{TopicPosition, FamilyPosition, true},
	{TopicOrders, FamilyOrder, true},
	{TopicTrades, FamilyTradeExecution, true},
}

// MarketTopic builds "{subChannel}:{symbol}".
func MarketTopic(subChannel, symbol string) string {
	return subChannel + ":" + symbol
}

// SplitTopic returns the part before the first ':' and the symbol after it.
func SplitTopic(topic string) (head, symbol string) {
	if i := strings.IndexByte(topic, ':'); i >= 0 {
		return topic[:i], topic[i+1:]
	}
	return topic, ""
}

// LookupTopic resolves the family of topic by exact match on its head, then
// by prefix.
func LookupTopic(topic string) (Family, bool) {
	tf, ok := lookupTopicFamily(topic)
	return tf.family, ok
}

// IsPrivateTopic reports whether topic belongs to the private channel.
func IsPrivateTopic(topic string) bool {
	tf, ok := lookupTopicFamily(topic)
	return ok && tf.private
}

func lookupTopicFamily(topic string) (topicFamily, bool) {
	head, _ := SplitTopic(strings.TrimSpace(topic))
	if head == "" {
		return topicFamily{}, false
	}
	for _, tf := range topicFamilies {
		if head == tf.name {
			return tf, true
		}
	}
	for _, tf := range topicFamilies {
		if strings.HasPrefix(head, tf.name) {
			return tf, true
		}
	}
	return topicFamily{}, false
}
