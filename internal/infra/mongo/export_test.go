package mongo

import (
	"github.com/boddenberg/phase-lifecycle-go/internal/domain"

	"go.mongodb.org/mongo-driver/bson"
)

var Classify = classify

func GrantDocID(g domain.ChannelGrant) string {
	return toGrantDoc(g).ID
}

func MarshalNotification(n domain.Notification) (bson.Raw, error) {
	return bson.Marshal(toNotificationDoc(n))
}

func MarshalPhase(r domain.PhaseRecord) (bson.Raw, error) {
	return bson.Marshal(toPhaseDoc(r))
}

func UnmarshalPhase(raw bson.Raw) (domain.PhaseRecord, error) {
	var d phaseDoc
	if err := bson.Unmarshal(raw, &d); err != nil {
		return domain.PhaseRecord{}, err
	}
	return d.toDomain(), nil
}
