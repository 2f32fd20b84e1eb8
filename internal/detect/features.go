package detect

// FeatureSchemaVersion identifies the FeatureVector layout. Bump it whenever
// a field is added, removed or reordered so persisted models trained on the
// old layout are not applied to the new one.
const FeatureSchemaVersion = 1

// FeatureVector is the fixed feature schema consumed by the learned
// classifier. Field order matches FeatureNames and Values.
type FeatureVector struct {
	Length    float64
	WordCount float64

	HasPixel          bool
	HasTracking       bool
	HasConversion     bool
	HasFiring         bool
	HasImplementation bool
	HasValidation     bool
	HasJavascript     bool
	HasTag            bool
	HasDSP            bool
	HasCreative       bool
	HasACR            bool
	HasAccess         bool

	PixelFiring       bool
	TrackingImplement bool
	PixelConversion   bool
	PixelValidation   bool

	PixelContexts       float64
	TechnicalTerms      float64
	ActionWords         float64
	ExclusionIndicators float64

	WebRelated      bool
	CampaignRelated bool
}

var FeatureNames = []string{
	"length",
	"word_count",
	"has_pixel",
	"has_tracking",
	"has_conversion",
	"has_firing",
	"has_implementation",
	"has_validation",
	"has_javascript",
	"has_tag",
	"has_dsp",
	"has_creative",
	"has_acr",
	"has_access",
	"pixel_firing",
	"tracking_implement",
	"pixel_conversion",
	"pixel_validation",
	"pixel_contexts",
	"technical_terms",
	"action_words",
	"exclusion_indicators",
	"web_related",
	"campaign_related",
}

// NumFeatures is len(FeatureNames).
const NumFeatures = 24

var (
	pixelContextWords = []string{"firing", "load", "loading", "implement", "implementation", "setup", "troubleshoot", "troubleshooting", "validate", "validation", "test", "testing"}
	technicalWords    = []string{"javascript", "js", "tag", "code", "snippet", "implementation", "gtm"}
	actionWords       = []string{"implement", "install", "setup", "add", "place", "deploy", "configure"}
	exclusionHints    = newPhrases([]string{"acr", "delivery report", "access request", "user sync", "planning module", "linear ads"})
)

// ExtractFeatures computes the feature vector for a ticket. It never fails:
// empty text yields the zero vector.
func ExtractFeatures(summary, description string) FeatureVector {
	text := newTicketText(summary, description)
	if len(text.tokens) == 0 {
		return FeatureVector{}
	}

	var fv FeatureVector
	fv.Length = float64(len(text.raw))
	fv.WordCount = float64(len(text.tokens))

	fv.HasPixel = text.hasPrefix("pixel")
	fv.HasTracking = text.hasPrefix("track")
	fv.HasConversion = text.hasPrefix("conversion")
	fv.HasFiring = text.hasAny("fire", "fires", "fired", "firing")
	fv.HasImplementation = text.hasPrefix("implement")
	fv.HasValidation = text.hasAny("validation", "validate", "validated", "validating")
	fv.HasJavascript = text.hasAny("javascript", "js")
	fv.HasTag = text.hasAny("tag", "tags", "tagging")
	fv.HasDSP = text.has("dsp")
	fv.HasCreative = text.hasPrefix("creative")
	fv.HasACR = text.has("acr")
	fv.HasAccess = text.has("access")

	fv.PixelFiring = fv.HasPixel && fv.HasFiring
	fv.TrackingImplement = fv.HasTracking && fv.HasImplementation
	fv.PixelConversion = fv.HasPixel && fv.HasConversion
	fv.PixelValidation = fv.HasPixel && fv.HasValidation

	if fv.HasPixel {
		fv.PixelContexts = float64(text.countAny(pixelContextWords...))
	}
	fv.TechnicalTerms = float64(text.countAny(technicalWords...))
	fv.ActionWords = float64(text.countAny(actionWords...))
	fv.ExclusionIndicators = float64(text.countPhrases(exclusionHints))

	fv.WebRelated = text.hasAny("web", "website", "page")
	fv.CampaignRelated = text.hasAny("campaign", "campaigns")
	return fv
}

// Values returns the vector in FeatureNames order, booleans as 0/1.
func (fv FeatureVector) Values() []float64 {
	return []float64{
		fv.Length,
		fv.WordCount,
		b2f(fv.HasPixel),
		b2f(fv.HasTracking),
		b2f(fv.HasConversion),
		b2f(fv.HasFiring),
		b2f(fv.HasImplementation),
		b2f(fv.HasValidation),
		b2f(fv.HasJavascript),
		b2f(fv.HasTag),
		b2f(fv.HasDSP),
		b2f(fv.HasCreative),
		b2f(fv.HasACR),
		b2f(fv.HasAccess),
		b2f(fv.PixelFiring),
		b2f(fv.TrackingImplement),
		b2f(fv.PixelConversion),
		b2f(fv.PixelValidation),
		fv.PixelContexts,
		fv.TechnicalTerms,
		fv.ActionWords,
		fv.ExclusionIndicators,
		b2f(fv.WebRelated),
		b2f(fv.CampaignRelated),
	}
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
