package bus

// Topic names for the event pipeline. Ordering is guaranteed only within a
// partition, so the partition key choice below is part of the contract:
// raw/validated events are keyed by source, insights by the triggering
// event's id.
const (
	TopicEventsRaw         = "events.raw"
	TopicEventsValidated   = "events.validated"
	TopicInsightsGenerated = "insights.generated"
	TopicEventsDLQ         = "events.dlq"
)
