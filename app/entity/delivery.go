package entity

const (
	DeliveryStatusSent       int16 = 10
	DeliveryStatusReassigned int16 = 11
	DeliveryStatusFailed     int16 = 50
)

// DeliveryRecord is an audit entry for one relay attempt outcome. It is a
// log, not a queue: nothing is replayed from it after a restart.
type DeliveryRecord struct {
	RequestID string
	Recipient string
	Subject   string
	Account   string
	MessageID string
	Reason    string
	Status    int16
}
