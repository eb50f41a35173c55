package e2e

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/cucumber/godog"
	"github.com/google/uuid"

	"parcelproof/internal/geofence"
	"parcelproof/internal/token"
	id "parcelproof/pkg/domain"
	"parcelproof/pkg/platform/middleware/auth"
	"parcelproof/pkg/testutil"
)

var places = map[string]geofence.Coordinate{
	"Tiergarten":     testutil.Tiergarten,
	"Alexanderplatz": testutil.Alexanderplatz,
}

var photo = base64.StdEncoding.EncodeToString([]byte("\xff\xd8\xff\xe0 parcel on doorstep"))

// RegisterSteps registers all step definitions
func RegisterSteps(sc *godog.ScenarioContext) {
	// Setup steps
	sc.Step(`^"([^"]*)" is a registered user$`, registeredUser)
	sc.Step(`^package "([^"]*)" is sent by "([^"]*)" via "([^"]*)" from (\w+) to (\w+)$`, definePackage)
	sc.Step(`^"([^"]*)" has picked up "([^"]*)"$`, pickedUp)
	sc.Step(`^(\d+) hours pass$`, hoursPass)

	// Handover steps
	sc.Step(`^"([^"]*)" records the pickup of "([^"]*)" (\d+) meters from the pickup location$`, recordPickup)
	sc.Step(`^"([^"]*)" records the delivery of "([^"]*)" (\d+) meters from the delivery location$`, recordDelivery)
	sc.Step(`^"([^"]*)" records the delivery of "([^"]*)" scanning the token of "([^"]*)"$`, recordDeliveryWithToken)
	sc.Step(`^"([^"]*)" requests the history of "([^"]*)"$`, requestHistory)

	// Assertion steps
	sc.Step(`^the response status should be (\d+)$`, responseStatusShouldBe)
	sc.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, responseFieldShouldBe)
	sc.Step(`^the response should list (\d+) records$`, responseShouldListRecords)
	sc.Step(`^the token minted for "([^"]*)" is valid for (\d+) hours$`, tokenValidFor)
	sc.Step(`^(\d+) settlement instructions? (?:is|are) queued$`, settlementsQueued)
}

func registeredUser(ctx context.Context, name string) error {
	tc := current(ctx)
	userID := id.UserID(uuid.New())
	bearer, _, err := tc.engine.jwt.IssueAccessToken(ctx, userID, []string{auth.ScopeIdentity, auth.ScopeHandover, auth.ScopeRead})
	if err != nil {
		return err
	}
	p := &participant{UserID: userID, Bearer: bearer}
	tc.participants[name] = p

	headers, _ := tc.auth(name)
	if err := tc.POST("/v1/identity", map[string]any{}, headers); err != nil {
		return err
	}
	if err := responseStatusShouldBe(ctx, 200); err != nil {
		return err
	}
	did, err := tc.Field("did")
	if err != nil {
		return err
	}
	p.DID = fmt.Sprint(did)
	return nil
}

func definePackage(ctx context.Context, pkg, sender, custodian, from, to string) error {
	tc := current(ctx)
	s, ok := tc.participants[sender]
	if !ok {
		return fmt.Errorf("unknown participant %q", sender)
	}
	c, ok := tc.participants[custodian]
	if !ok {
		return fmt.Errorf("unknown participant %q", custodian)
	}
	pickup, ok := places[from]
	if !ok {
		return fmt.Errorf("unknown place %q", from)
	}
	delivery, ok := places[to]
	if !ok {
		return fmt.Errorf("unknown place %q", to)
	}
	tc.packages[pkg] = map[string]any{
		"id":                pkg,
		"sender":            s.DID,
		"custodian":         c.DID,
		"destination":       to,
		"declared_value":    4999,
		"pickup_location":   coordinate(pickup),
		"delivery_location": coordinate(delivery),
	}
	return nil
}

func coordinate(c geofence.Coordinate) map[string]any {
	return map[string]any{"lat": c.Latitude, "lon": c.Longitude}
}

func location(tc *TestContext, pkg, field string, meters int) (geofence.Coordinate, error) {
	desc, ok := tc.packages[pkg]
	if !ok {
		return geofence.Coordinate{}, fmt.Errorf("unknown package %q", pkg)
	}
	c := desc[field].(map[string]any)
	base := geofence.Coordinate{Latitude: c["lat"].(float64), Longitude: c["lon"].(float64)}
	return testutil.NorthOf(base, float64(meters)), nil
}

func handoverBody(tc *TestContext, pkg string, at geofence.Coordinate) map[string]any {
	return map[string]any{
		"package": tc.packages[pkg],
		"fix": map[string]any{
			"coordinate": coordinate(at),
			"accuracy_m": 8,
		},
		"photo": map[string]any{
			"data":         photo,
			"content_type": "image/jpeg",
		},
	}
}

func recordPickup(ctx context.Context, name, pkg string, meters int) error {
	tc := current(ctx)
	at, err := location(tc, pkg, "pickup_location", meters)
	if err != nil {
		return err
	}
	headers, err := tc.auth(name)
	if err != nil {
		return err
	}
	if err := tc.POST("/v1/handovers/pickup", handoverBody(tc, pkg, at), headers); err != nil {
		return err
	}
	if raw, err := tc.Field("token"); err == nil {
		tc.tokens[pkg] = fmt.Sprint(raw)
	}
	return nil
}

func pickedUp(ctx context.Context, name, pkg string) error {
	if err := recordPickup(ctx, name, pkg, 0); err != nil {
		return err
	}
	return responseStatusShouldBe(ctx, 201)
}

func hoursPass(ctx context.Context, hours int) error {
	current(ctx).engine.clock.Advance(time.Duration(hours) * time.Hour)
	return nil
}

func deliver(ctx context.Context, name, pkg, tokenOf string, meters int) error {
	tc := current(ctx)
	at, err := location(tc, pkg, "delivery_location", meters)
	if err != nil {
		return err
	}
	headers, err := tc.auth(name)
	if err != nil {
		return err
	}
	body := handoverBody(tc, pkg, at)
	body["scanned_token"] = tc.tokens[tokenOf]
	return tc.POST("/v1/handovers/delivery", body, headers)
}

func recordDelivery(ctx context.Context, name, pkg string, meters int) error {
	return deliver(ctx, name, pkg, pkg, meters)
}

func recordDeliveryWithToken(ctx context.Context, name, pkg, tokenOf string) error {
	return deliver(ctx, name, pkg, tokenOf, 0)
}

func requestHistory(ctx context.Context, name, pkg string) error {
	tc := current(ctx)
	headers, err := tc.auth(name)
	if err != nil {
		return err
	}
	return tc.GET("/v1/packages/"+pkg+"/events", headers)
}

func responseStatusShouldBe(ctx context.Context, expected int) error {
	tc := current(ctx)
	if tc.LastResponse == nil {
		return fmt.Errorf("no request was made")
	}
	if tc.LastResponse.StatusCode != expected {
		return fmt.Errorf("expected status %d but got %d", expected, tc.LastResponse.StatusCode)
	}
	return nil
}

func responseFieldShouldBe(ctx context.Context, field, expected string) error {
	value, err := current(ctx).Field(field)
	if err != nil {
		return err
	}
	if fmt.Sprint(value) != expected {
		return fmt.Errorf("field %s: expected %s but got %v", field, expected, value)
	}
	return nil
}

func responseShouldListRecords(ctx context.Context, count int) error {
	value, err := current(ctx).Field("records")
	if err != nil {
		return err
	}
	records, ok := value.([]any)
	if !ok {
		return fmt.Errorf("records is not a list: %v", value)
	}
	if len(records) != count {
		return fmt.Errorf("expected %d records but got %d", count, len(records))
	}
	return nil
}

func tokenValidFor(ctx context.Context, pkg string, hours int) error {
	encoded, ok := current(ctx).tokens[pkg]
	if !ok {
		return fmt.Errorf("no token was minted for %q", pkg)
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("token is not base64url: %w", err)
	}
	t, err := token.Decode(raw)
	if err != nil {
		return err
	}
	if got := t.ExpiresAt.Sub(t.CreatedAt); got != time.Duration(hours)*time.Hour {
		return fmt.Errorf("expected validity of %dh but got %s", hours, got)
	}
	return nil
}

func settlementsQueued(ctx context.Context, count int) error {
	if got := len(current(ctx).engine.outbox.All()); got != count {
		return fmt.Errorf("expected %d settlement instructions but got %d", count, got)
	}
	return nil
}
