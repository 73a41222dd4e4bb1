package event

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"kassa-service/internal/model"
	"kassa-service/internal/payload"
)

const localCurrency = "rub"

// localTuple lists the stored payment fields in digest order, with the status the
// notification claims.
func localTuple(record *model.PaymentRecord, target model.Status) []string {
	return []string{
		record.Payer.Name,
		record.Payer.Surname,
		record.Payer.Patronym,
		record.Email,
		record.Contract,
		record.Amount.StringFixed(2),
		localCurrency,
		target.GatewayName(),
	}
}

// remoteTuple lists the same fields as the gateway reports them.
func remoteTuple(payment *payload.Payment) []string {
	md := payment.Metadata
	return []string{
		md.Get(payload.MetaName),
		md.Get(payload.MetaSurname),
		md.Get(payload.MetaPatronym),
		md.Get(payload.MetaEmail),
		md.Get(payload.MetaContract),
		payment.Amount.Value,
		strings.ToLower(payment.Amount.Currency),
		payment.Status,
	}
}

// digest is md5 over the concatenated fields. It is an equality check between two
// views of the same payment, not a signature.
func digest(fields []string) string {
	sum := md5.Sum([]byte(strings.Join(fields, "")))
	return hex.EncodeToString(sum[:])
}

func verifyIntegrity(record *model.PaymentRecord, target model.Status, payment *payload.Payment) error {
	local := localTuple(record, target)
	remote := remoteTuple(payment)

	if subtle.ConstantTimeCompare([]byte(digest(local)), []byte(digest(remote))) != 1 {
		return &model.IntegrityMismatchError{PaymentID: record.GatewayPaymentID, Local: local, Remote: remote}
	}
	return nil
}
