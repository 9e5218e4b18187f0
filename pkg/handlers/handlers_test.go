package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/sasya/pkg/adapters/memory"
	"github.com/aretw0/sasya/pkg/adapters/stub"
	"github.com/aretw0/sasya/pkg/domain"
	"github.com/aretw0/sasya/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	classifier *stub.Classifier
	retriever  *stub.Retriever
	llm        *stub.LLM
	vendors    *stub.Vendors
	artifacts  *memory.Artifacts
	registry   *Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		classifier: &stub.Classifier{Label: "early_blight", Confidence: 0.9, Attention: []byte("heat")},
		retriever:  stub.NewRetriever(),
		llm:        stub.NewLLM(),
		vendors:    stub.NewVendors(),
		artifacts:  memory.NewArtifacts(),
	}
	f.registry = Default(Deps{
		Classifier: f.classifier,
		Retriever:  f.retriever,
		LLM:        f.llm,
		Vendors:    f.vendors,
		Artifacts:  f.artifacts,
		Now:        func() time.Time { return fixedNow },
	})
	return f
}

func (f *fixture) run(t *testing.T, st domain.WorkflowState, s *domain.Session, in Input) domain.HandlerResult {
	t.Helper()
	h, ok := f.registry.Lookup(st)
	require.True(t, ok, "no handler for %s", st)
	before := s.Clone()
	res, err := h.Execute(context.Background(), s, in)
	require.NoError(t, err)
	assert.Equal(t, before, s, "handlers must not modify the session")
	return res
}

func newSession() *domain.Session {
	return domain.NewSession("s1", fixedNow)
}

func uploaded(tag string) *domain.Image {
	img, err := SanitizeImage(fakeImage(tag))
	if err != nil {
		panic(err)
	}
	return img
}

func diagnosedSession(label string, confidence float64) *domain.Session {
	s := newSession()
	s.Profile.Crop = "tomato"
	s.Profile.Location = "Pune"
	s.Image = uploaded("leaf")
	s.Diagnosis = &domain.Diagnosis{Label: label, Confidence: confidence, ImageDigest: s.Image.Digest}
	return s
}

func TestRegistry(t *testing.T) {
	r := Default(Deps{})
	for _, st := range domain.States() {
		_, ok := r.Lookup(st)
		assert.Equal(t, st.HasHandler(), ok, st.String())
	}

	custom := HandlerFunc(func(ctx context.Context, s *domain.Session, in Input) (domain.HandlerResult, error) {
		return ok("custom"), nil
	})
	require.NoError(t, r.Register(domain.StateFollowUp, custom))
	h, _ := r.Lookup(domain.StateFollowUp)
	res, err := h.Execute(context.Background(), newSession(), Input{})
	require.NoError(t, err)
	assert.Equal(t, "custom", res.ResponseText)

	assert.ErrorIs(t, r.Register(domain.StateCompleted, custom), domain.ErrUndefinedState)
}

func TestIntentCapture(t *testing.T) {
	f := newFixture(t)

	res := f.run(t, domain.StateIntentCapture, newSession(), Input{Message: "My tomato plant has yellow spots"})
	assert.True(t, res.Success)
	assert.False(t, res.RequiresUserInput)
	assert.Equal(t, "tomato", res.Patch.Profile.Crop)
	assert.Equal(t, "yellow spots", res.Patch.Profile.Symptoms)
	assert.Nil(t, res.Patch.Diagnosis, "intent capture never classifies")
	assert.Zero(t, f.classifier.Calls())

	res = f.run(t, domain.StateIntentCapture, newSession(), Input{
		Message: "potato leaves",
		Hints:   Hints{Crop: "tomato", Location: "Nashik"},
	})
	assert.Equal(t, "tomato", res.Patch.Profile.Crop, "hints take precedence")
	assert.Equal(t, "Nashik", res.Patch.Profile.Location)

	res = f.run(t, domain.StateIntentCapture, newSession(), Input{})
	assert.False(t, res.Success)
	assert.Equal(t, domain.ErrorInvalidInput, res.ErrorKind)
}

func TestIntentCapture_NewCaseAfterDiagnosis(t *testing.T) {
	f := newFixture(t)
	s := diagnosedSession("early_blight", 0.9)
	img := uploaded("chilli")

	res := f.run(t, domain.StateIntentCapture, s, Input{Message: "now my chilli leaves are curling", Image: img})
	assert.True(t, res.Patch.NewCase)
	assert.Equal(t, "chilli", res.Patch.Profile.Crop)
	assert.Equal(t, img, res.Patch.Image)

	next := s.Clone()
	require.NoError(t, next.Apply(res.Patch))
	assert.Nil(t, next.Diagnosis)
	assert.Equal(t, "Pune", next.Profile.Location)

	res = f.run(t, domain.StateIntentCapture, s, Input{Message: "how long should I keep spraying?"})
	assert.Equal(t, domain.RouteQuestion, res.Route)
	assert.True(t, res.Patch.IsEmpty())
}

func TestClarification_AsksHighestPriorityField(t *testing.T) {
	f := newFixture(t)
	f.llm.Reply = "Where is your farm?"
	s := newSession()
	s.Profile.Crop = "tomato"

	res := f.run(t, domain.StateClarification, s, Input{Message: "tomato", Chained: true})
	assert.True(t, res.RequiresUserInput)
	assert.Equal(t, "Where is your farm?", res.ResponseText)
	assert.Equal(t, []string{"provide_location"}, res.FollowUps)
	assert.Empty(t, res.Patch.Profile.Location, "chained input is not read as an answer")
	require.Len(t, f.llm.Prompts(), 1)
	assert.Contains(t, f.llm.Prompts()[0], "location")
	assert.Contains(t, f.llm.Prompts()[0], "crop: tomato")
}

func TestClarification_BareAnswerAndNoReask(t *testing.T) {
	f := newFixture(t)
	s := newSession()
	s.Profile.Crop = "tomato"

	res := f.run(t, domain.StateClarification, s, Input{Message: "Nashik"})
	assert.Equal(t, "Nashik", res.Patch.Profile.Location)
	assert.Equal(t, []string{"upload_image"}, res.FollowUps, "known fields are never asked again")

	res = f.run(t, domain.StateClarification, s, Input{Message: "in Nashik", Image: uploaded("leaf")})
	assert.False(t, res.RequiresUserInput, "everything known, continue to classification")
	assert.NotNil(t, res.Patch.Image)
}

func TestClarification_NonAnswersAreNotRecorded(t *testing.T) {
	f := newFixture(t)
	s := newSession()

	res := f.run(t, domain.StateClarification, s, Input{Message: "not sure"})
	assert.Empty(t, res.Patch.Profile.Crop)
	assert.True(t, res.RequiresUserInput)
	assert.Equal(t, []string{"provide_crop"}, res.FollowUps, "the crop is asked again")

	res = f.run(t, domain.StateClarification, s, Input{Message: "my field"})
	assert.Empty(t, res.Patch.Profile.Crop, "unknown crop names are not recorded")

	s.Profile.Crop = "tomato"
	res = f.run(t, domain.StateClarification, s, Input{Message: "ok thanks"})
	assert.Empty(t, res.Patch.Profile.Location)
	assert.Equal(t, []string{"provide_location"}, res.FollowUps, "the location is asked again")
}

func TestClarification_TemplateWhenLLMDown(t *testing.T) {
	f := newFixture(t)
	f.llm.Err = errors.New("llm down")

	res := f.run(t, domain.StateClarification, newSession(), Input{Message: "help", Chained: true})
	assert.True(t, res.Success)
	assert.True(t, res.Degraded)
	assert.Equal(t, questionTemplates[domain.FieldCrop], res.ResponseText)
}

func TestClassification_CachesByDigest(t *testing.T) {
	f := newFixture(t)
	s := newSession()
	s.Image = uploaded("leaf")

	res := f.run(t, domain.StateClassification, s, Input{})
	require.True(t, res.Success)
	require.NotNil(t, res.Patch.Diagnosis)
	assert.Equal(t, "early_blight", res.Patch.Diagnosis.Label)
	assert.Equal(t, s.Image.Digest, res.Patch.Diagnosis.ImageDigest)
	assert.Equal(t, "mem://attention/"+s.Image.Digest, res.Patch.Diagnosis.AttentionRef)
	assert.False(t, res.RequiresUserInput)
	assert.Equal(t, 1, f.classifier.Calls())

	require.NoError(t, s.Apply(res.Patch))
	res = f.run(t, domain.StateClassification, s, Input{Image: uploaded("leaf")})
	require.True(t, res.Success)
	assert.Equal(t, 1, f.classifier.Calls(), "same image must not be classified twice")
	assert.Nil(t, res.Patch.Image)

	stored, err := f.artifacts.Get(context.Background(), s.Diagnosis.AttentionRef)
	require.NoError(t, err)
	assert.Equal(t, []byte("heat"), stored)
}

func TestClassification_LowConfidence(t *testing.T) {
	f := newFixture(t)
	f.classifier.Confidence = 0.4
	s := newSession()
	s.Image = uploaded("leaf")

	res := f.run(t, domain.StateClassification, s, Input{})
	assert.True(t, res.Success)
	assert.True(t, res.RequiresUserInput)
	assert.Contains(t, res.ResponseText, "40%")
	assert.Contains(t, res.FollowUps, "confirm_diagnosis")
}

func TestClassification_Failures(t *testing.T) {
	f := newFixture(t)
	s := newSession()

	res := f.run(t, domain.StateClassification, s, Input{})
	assert.Equal(t, domain.ErrorInvalidInput, res.ErrorKind)

	s.Image = uploaded("leaf")
	f.classifier.Err = errors.New("connection refused")
	res = f.run(t, domain.StateClassification, s, Input{})
	assert.False(t, res.Success)
	assert.Equal(t, domain.ErrorDependencyUnavailable, res.ErrorKind)
	assert.True(t, res.Patch.IsEmpty())
	assert.Contains(t, res.FollowUps, "retry")

	f.classifier.Err = nil
	f.classifier.Confidence = 1.7
	res = f.run(t, domain.StateClassification, s, Input{})
	assert.Equal(t, domain.ErrorDependencyUnavailable, res.ErrorKind)
}

func TestPrescription(t *testing.T) {
	f := newFixture(t)
	s := diagnosedSession("early_blight", 0.9)
	s.Profile.Season = "kharif"

	res := f.run(t, domain.StatePrescription, s, Input{Message: "Early blight it is", Chained: true})
	require.True(t, res.Success)
	require.Len(t, res.Patch.Prescriptions, 1)
	rx := res.Patch.Prescriptions[0]
	assert.Equal(t, domain.SourceRetrieval, rx.Source)
	assert.ElementsMatch(t,
		[]domain.TreatmentKind{domain.TreatmentChemical, domain.TreatmentOrganic, domain.TreatmentPreventive},
		rx.Kinds())
	assert.False(t, res.Degraded)
	assert.True(t, res.RequiresUserInput)

	q := f.retriever.Queries()
	require.Len(t, q, 1)
	assert.Equal(t, "Treatment for early blight in tomato in Pune during kharif", q[0].Text)
	assert.Equal(t, map[string]string{"disease": "early_blight", "crop": "tomato", "location": "Pune", "season": "kharif"}, q[0].Filters)
}

func TestPrescription_OrganicOnlyAndFallback(t *testing.T) {
	f := newFixture(t)
	s := diagnosedSession("late_blight", 0.9)
	s.Profile.Preferences.OrganicOnly = true

	res := f.run(t, domain.StatePrescription, s, Input{})
	for _, tr := range res.Patch.Prescriptions[0].Treatments {
		assert.NotEqual(t, domain.TreatmentChemical, tr.Kind)
	}

	f.retriever.Err = errors.New("qdrant unreachable")
	res = f.run(t, domain.StatePrescription, s, Input{})
	require.True(t, res.Success, "retrieval failure never fails the turn")
	assert.True(t, res.Degraded)
	rx := res.Patch.Prescriptions[0]
	assert.Equal(t, domain.SourceAdvisory, rx.Source)
	assert.NotEmpty(t, rx.Treatments)

	f.retriever.Err = nil
	f.retriever.Docs = nil
	res = f.run(t, domain.StatePrescription, diagnosedSession("mosaic_virus", 0.9), Input{})
	assert.Equal(t, Advisory("generic"), res.Patch.Prescriptions[0].Treatments)
}

func TestPrescription_PendingRequest(t *testing.T) {
	f := newFixture(t)
	s := diagnosedSession("early_blight", 0.9)

	res := f.run(t, domain.StatePrescription, s, Input{Message: "where can I buy it? organic only"})
	assert.Equal(t, domain.RoutePreferences, res.Route, "preferences before vendors")
	assert.False(t, res.RequiresUserInput)

	s.Profile.Preferences.OrganicOnly = true
	res = f.run(t, domain.StatePrescription, s, Input{Message: "where can I buy it? organic only"})
	assert.Equal(t, domain.RouteVendors, res.Route, "preferences already applied")
}

func TestConstraintGathering(t *testing.T) {
	f := newFixture(t)
	s := diagnosedSession("early_blight", 0.9)
	s.Prescriptions = []domain.Prescription{{
		DiagnosisLabel: "early_blight",
		Treatments:     []domain.Treatment{{Kind: domain.TreatmentChemical, Name: "Mancozeb 75% WP"}},
	}}

	res := f.run(t, domain.StateConstraintGathering, s, Input{Message: "organic only, under 400"})
	require.True(t, res.Success)
	require.NotNil(t, res.Patch.Profile.OrganicOnly)
	assert.True(t, *res.Patch.Profile.OrganicOnly)
	assert.Equal(t, 400.0, *res.Patch.Profile.BudgetCeiling)
	assert.False(t, res.RequiresUserInput, "organic-only triggers a new prescription")

	res = f.run(t, domain.StateConstraintGathering, s, Input{Message: "the weather is nice"})
	assert.True(t, res.RequiresUserInput)
	assert.True(t, res.Patch.IsEmpty())

	s.Profile.Preferences.BudgetCeiling = 300
	res = f.run(t, domain.StateConstraintGathering, s, Input{Message: "actually my budget is 600, and find me a shop"})
	assert.Equal(t, 600.0, *res.Patch.Profile.BudgetCeiling)
	assert.Contains(t, res.Patch.Corrections, domain.FieldPreferences)
	assert.Equal(t, domain.RouteVendors, res.Route)
	require.NoError(t, s.Clone().Apply(res.Patch))
}

func TestVendorRecommendation(t *testing.T) {
	f := newFixture(t)
	s := diagnosedSession("early_blight", 0.9)
	s.Prescriptions = []domain.Prescription{{
		DiagnosisLabel: "early_blight",
		Treatments: []domain.Treatment{
			{Kind: domain.TreatmentChemical, Name: "Mancozeb 75% WP"},
			{Kind: domain.TreatmentOrganic, Name: "Neem oil spray"},
		},
	}}
	s.Profile.Preferences.Delivery = true

	res := f.run(t, domain.StateVendorRecommendation, s, Input{})
	require.True(t, res.Success)
	require.Len(t, res.Patch.VendorChoices, 3)
	names := []string{res.Patch.VendorChoices[0].Name, res.Patch.VendorChoices[1].Name, res.Patch.VendorChoices[2].Name}
	assert.Equal(t, []string{"Kisan Agro Centre", "Green Earth Organics", "Shetkari Seva Kendra"}, names)
	assert.Equal(t, fixedNow, res.Patch.VendorChoices[0].RecommendedAt)

	s.Profile.Preferences.OrganicOnly = true
	res = f.run(t, domain.StateVendorRecommendation, s, Input{})
	require.Len(t, res.Patch.VendorChoices, 1)
	assert.Equal(t, "Green Earth Organics", res.Patch.VendorChoices[0].Name)
}

func TestVendorRecommendation_NeedsLocation(t *testing.T) {
	f := newFixture(t)
	s := diagnosedSession("early_blight", 0.9)
	s.Profile.Location = ""

	res := f.run(t, domain.StateVendorRecommendation, s, Input{Message: "where can I buy this?", Chained: true})
	assert.True(t, res.RequiresUserInput)
	assert.Equal(t, []string{"provide_location"}, res.FollowUps)
	assert.Zero(t, f.vendors.Calls(), "no lookup without a location")

	res = f.run(t, domain.StateVendorRecommendation, s, Input{Message: "don't know"})
	assert.Empty(t, res.Patch.Profile.Location)
	assert.True(t, res.RequiresUserInput)
	assert.Zero(t, f.vendors.Calls())

	res = f.run(t, domain.StateVendorRecommendation, s, Input{Message: "nashik"})
	assert.Equal(t, "Nashik", res.Patch.Profile.Location)
	require.Len(t, res.Patch.VendorChoices, 1)
	assert.Equal(t, "Nashik Krishi Bhandar", res.Patch.VendorChoices[0].Name)
}

func TestVendorRecommendation_Cap(t *testing.T) {
	var dir []ports.Vendor
	for i := range 9 {
		dir = append(dir, ports.Vendor{Name: string(rune('A' + i)), Location: "Pune", DistanceKm: float64(9 - i)})
	}
	f := newFixture(t)
	f.vendors.Directory = dir

	res := f.run(t, domain.StateVendorRecommendation, diagnosedSession("early_blight", 0.9), Input{})
	require.Len(t, res.Patch.VendorChoices, 5)
	assert.Equal(t, "I", res.Patch.VendorChoices[0].Name, "closest first")
}

func TestFollowUp_CorrectionKeepsConfidence(t *testing.T) {
	f := newFixture(t)
	s := diagnosedSession("early_blight", 0.4)
	s.Profile.Symptoms = "yellow spots"

	res := f.run(t, domain.StateFollowUp, s, Input{Message: "I think it's late blight, not early blight"})
	require.True(t, res.Success)
	assert.Equal(t, domain.RouteCorrection, res.Route)
	assert.Equal(t, []domain.Field{domain.FieldDiagnosisLabel}, res.Patch.Corrections)
	assert.True(t, res.Patch.Profile.IsEmpty())

	next := s.Clone()
	require.NoError(t, next.Apply(res.Patch))
	assert.Equal(t, "late_blight", next.Diagnosis.Label)
	assert.Equal(t, "early_blight", next.Diagnosis.OriginalLabel)
	assert.True(t, next.Diagnosis.UserOverridden)
	assert.Equal(t, 0.4, next.Diagnosis.Confidence)
	assert.Equal(t, s.Profile, next.Profile, "only the label changes")
}

func TestFollowUp_Routes(t *testing.T) {
	f := newFixture(t)
	s := diagnosedSession("early_blight", 0.4)

	cases := map[string]domain.Route{
		"yes, that's right":             domain.RouteConfirm,
		"can you analyze it again":      domain.RouteReclassify,
		"I have another plant to check": domain.RouteNewReport,
		"I prefer organic":              domain.RoutePreferences,
		"where can I buy the spray":     domain.RouteVendors,
		"thanks, that's all":            domain.RouteDone,
		"how often should I spray?":     domain.RouteQuestion,
	}
	for msg, want := range cases {
		res := f.run(t, domain.StateFollowUp, s, Input{Message: msg})
		assert.True(t, res.Success, msg)
		assert.Equal(t, want, res.Route, msg)
	}

	res := f.run(t, domain.StateFollowUp, s, Input{Message: "yes"})
	assert.True(t, res.Patch.ConfirmDiagnosis)

	res = f.run(t, domain.StateFollowUp, s, Input{Image: uploaded("other")})
	assert.Equal(t, domain.RouteReclassify, res.Route)
	assert.NotNil(t, res.Patch.Image)
}

func TestFollowUp_QuestionUsesContext(t *testing.T) {
	f := newFixture(t)
	s := diagnosedSession("early_blight", 0.9)
	s.Prescriptions = []domain.Prescription{{
		DiagnosisLabel: "early_blight",
		Treatments:     []domain.Treatment{{Kind: domain.TreatmentOrganic, Name: "Neem oil spray"}},
	}}

	res := f.run(t, domain.StateFollowUp, s, Input{Message: "how often should I spray?"})
	assert.True(t, res.RequiresUserInput)
	prompt := f.llm.Prompts()[0]
	assert.Contains(t, prompt, "Diagnosis: early blight")
	assert.Contains(t, prompt, "Neem oil spray (organic)")
	assert.Contains(t, prompt, "Question: how often should I spray?")

	f.llm.Err = errors.New("timeout")
	res = f.run(t, domain.StateFollowUp, s, Input{Message: "how often should I spray?"})
	assert.False(t, res.Success)
	assert.Equal(t, domain.ErrorDependencyUnavailable, res.ErrorKind)
}
