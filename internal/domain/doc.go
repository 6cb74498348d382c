// Package domain models solar events, per-source predictions, and the
// published impact forecast.
//
// # Data Source
//
// Event records originate from an upstream ingestion collector that polls
// space-weather catalogs (CME analyses, flare lists, SEP and geomagnetic storm
// notifications) and publishes each event as flat JSON to the Kafka event
// topic. The collector owns fetching and retry; this service only sees one
// already-fetched record per message and makes no ordering assumptions.
//
// # Heliographic Conventions
//
// Source location:
//
//	"<N|S><lat><E|W><lon>"  →  e.g. "N03E59"
//	means 3° north of the solar equator, 59° east of the central meridian.
//	East longitudes are negative, west positive (Stonyhurst convention).
//	Far-side or unresolved sources carry no location and are legal input.
//
// Angular distance from disk centre:
//
//	cos(d) = cos(lat)·cos(lon). Sources near the centre (small d) are the
//	best connected to Earth; |lon| > 90° is behind the limb.
//
// Solar-wind context:
//
//	Speed in km/s, proton density in cm⁻³, magnetic field components in nT
//	(GSM). Bz < 0 is southward and favours coupling. Each field is optional;
//	models fall back to quiet-time defaults and flag the result low-confidence.
//
// # Severity Scale
//
// Five buckets shared by every source so votes can be compared:
//
//	MINIMAL < LOW < MODERATE < HIGH < EXTREME
//
// Scores in [0,1] are bucketed by [SeverityScale]. Observed storms are
// bucketed from their minimum Dst (see [SeverityForDst]):
//
//	> -30 nT minimal | > -50 low | > -100 moderate | > -250 high | ≤ -250 extreme
//
// # ID Generation
//
// Records without an upstream id get a deterministic SHA-256 hash of
// kind|onset|location. Replaying a record, or revising its speed or width,
// yields the same ID, so revisions supersede the earlier forecast and
// downstream consumers can deduplicate. See [generateID].
package domain
