package analyzer

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/poddigest/poddigest/internal/metrics"
	"github.com/poddigest/poddigest/internal/models"
	"github.com/poddigest/poddigest/internal/services/digests"
	"github.com/poddigest/poddigest/internal/services/episodes"
	"github.com/poddigest/poddigest/internal/services/transcripts"
	"github.com/poddigest/poddigest/pkg/llm"
	"github.com/poddigest/poddigest/pkg/timeutil"
)

const (
	// minViableScore is the composite score below which a candidate is
	// discarded before selection.
	minViableScore = 40.0

	// contentFillRatio is the share of the target length reserved for
	// clip content; the rest is narration and transitions.
	contentFillRatio = 0.85

	// bandFloor and bandCeil stretch the effective duration range when
	// admitting candidates.
	bandFloor = 0.7
	bandCeil  = 1.3

	// rangeTighten controls how far breadthDepth pulls the effective
	// duration range in from the preference's raw bounds.
	rangeTighten = 0.3

	// Sliding window geometry for the fallback scoring pass.
	windowSec     = 180.0
	windowStepSec = 90.0
)

const solicitSystemPrompt = `You are a podcast editor picking highlight clips for a weekly audio digest. The user message contains one full episode transcript with [HH:MM:SS] timestamps. Identify the 10 to 15 most compelling self-contained regions. Each region must start and end at natural conversation boundaries, and regions must not overlap. Rate every region on five dimensions from 0 to 100: insight_density, emotional_intensity, actionability, topical_relevance, conversational_quality. Respond with JSON of the form {"regions":[{"start_sec":0,"end_sec":0,"insight_density":0,"emotional_intensity":0,"actionability":0,"topical_relevance":0,"conversational_quality":0}]}.`

const windowSystemPrompt = `You are a podcast editor rating a single excerpt of an episode transcript for a weekly audio digest. Rate the excerpt on five dimensions from 0 to 100 and respond with JSON of the form {"insight_density":0,"emotional_intensity":0,"actionability":0,"topical_relevance":0,"conversational_quality":0}.`

// Config holds tunables for the analyzer service
type Config struct {
	// MaxConcurrentScores caps in-flight window scoring calls per batch
	MaxConcurrentScores int
	// ScoreBatchDelay is the pause between window scoring batches
	ScoreBatchDelay time.Duration
	// MaxTranscriptChars truncates the transcript sent on the
	// full-episode pass
	MaxTranscriptChars int
}

type service struct {
	digests     digests.Service
	transcripts transcripts.Service
	episodes    episodes.Service
	llm         ChatCompleter
	cfg         Config
}

// NewService creates a new analyzer service
func NewService(digestService digests.Service, transcriptService transcripts.Service, episodeService episodes.Service, completer ChatCompleter, cfg Config) Service {
	if cfg.MaxConcurrentScores <= 0 {
		cfg.MaxConcurrentScores = 5
	}
	if cfg.ScoreBatchDelay <= 0 {
		cfg.ScoreBatchDelay = 200 * time.Millisecond
	}
	if cfg.MaxTranscriptChars <= 0 {
		cfg.MaxTranscriptChars = 60000
	}
	return &service{
		digests:     digestService,
		transcripts: transcriptService,
		episodes:    episodeService,
		llm:         completer,
		cfg:         cfg,
	}
}

// clipScores carries the five rating dimensions as the model returns them
type clipScores struct {
	InsightDensity        int `json:"insight_density"`
	EmotionalIntensity    int `json:"emotional_intensity"`
	Actionability         int `json:"actionability"`
	TopicalRelevance      int `json:"topical_relevance"`
	ConversationalQuality int `json:"conversational_quality"`
}

func (c clipScores) clamped() clipScores {
	c.InsightDensity = clampDim(c.InsightDensity)
	c.EmotionalIntensity = clampDim(c.EmotionalIntensity)
	c.Actionability = clampDim(c.Actionability)
	c.TopicalRelevance = clampDim(c.TopicalRelevance)
	c.ConversationalQuality = clampDim(c.ConversationalQuality)
	return c
}

// composite collapses the five dimensions into one weighted score
func (c clipScores) composite() float64 {
	return 0.25*float64(c.InsightDensity) +
		0.20*float64(c.EmotionalIntensity) +
		0.20*float64(c.Actionability) +
		0.20*float64(c.TopicalRelevance) +
		0.15*float64(c.ConversationalQuality)
}

func clampDim(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

type scoredRegion struct {
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
	clipScores
}

type solicitResponse struct {
	Regions []scoredRegion `json:"regions"`
}

// candidate is a scored span of one episode under consideration
type candidate struct {
	episodeID    uint
	podcastTitle string
	startSec     float64
	endSec       float64
	scores       clipScores
	score        float64
}

func (c candidate) durationSec() float64 {
	return c.endSec - c.startSec
}

type window struct {
	startSec float64
	endSec   float64
}

// Analyze scores transcripts, selects clips and persists the selection
func (s *service) Analyze(ctx context.Context, digestID string, episodeIDs []uint, config *models.DigestConfig) ([]models.DigestClip, error) {
	if config == nil {
		return nil, fmt.Errorf("analyzing digest %s: config is required", digestID)
	}

	eps, err := s.episodes.GetEpisodesByIDs(ctx, episodeIDs)
	if err != nil {
		return nil, fmt.Errorf("loading episodes for digest %s: %w", digestID, err)
	}
	trs, err := s.transcripts.ListCompletedByEpisodeIDs(ctx, episodeIDs)
	if err != nil {
		return nil, fmt.Errorf("loading transcripts for digest %s: %w", digestID, err)
	}
	byEpisode := make(map[uint]*models.Transcript, len(trs))
	for i := range trs {
		byEpisode[trs[i].EpisodeID] = &trs[i]
	}

	var candidates []candidate
	transcribed := 0
	for i := range eps {
		ep := &eps[i]
		t := byEpisode[ep.ID]
		if t == nil {
			log.Printf("[DEBUG] analyzer: episode %d has no completed transcript, skipping", ep.ID)
			continue
		}
		transcribed++
		found, err := s.candidatesForEpisode(ctx, ep, t)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, found...)
	}

	var viable []candidate
	for _, c := range candidates {
		if c.score >= minViableScore {
			viable = append(viable, c)
		}
	}
	log.Printf("[INFO] analyzer: digest %s has %d candidates across %d transcripts, %d viable",
		digestID, len(candidates), transcribed, len(viable))

	selected, totalSec := selectClips(viable, config)
	if len(selected) == 0 {
		details := fmt.Sprintf("%d candidates from %d transcripts, %d scored %.0f or higher",
			len(candidates), transcribed, len(viable), minViableScore)
		return nil, models.NewStageError("no-viable-clips", "no clips met the selection criteria", details, nil)
	}

	orderForStructure(selected, config.Structure)

	clips := make([]models.DigestClip, len(selected))
	for i, c := range selected {
		clips[i] = models.DigestClip{
			EpisodeID:             c.episodeID,
			StartSec:              c.startSec,
			EndSec:                c.endSec,
			Score:                 c.score,
			InsightDensity:        c.scores.InsightDensity,
			EmotionalIntensity:    c.scores.EmotionalIntensity,
			Actionability:         c.scores.Actionability,
			TopicalRelevance:      c.scores.TopicalRelevance,
			ConversationalQuality: c.scores.ConversationalQuality,
			Position:              i,
		}
	}
	if err := s.digests.SaveSelection(ctx, digestID, clips); err != nil {
		return nil, fmt.Errorf("saving clip selection for digest %s: %w", digestID, err)
	}

	budget := contentFillRatio * float64(config.TargetLengthMinutes) * 60
	log.Printf("[INFO] analyzer: digest %s selected %d clips totalling %.0fs against a %.0fs budget",
		digestID, len(clips), totalSec, budget)
	return clips, nil
}

// candidatesForEpisode tries one full-transcript pass first and falls back
// to sliding windows when that pass fails or returns nothing usable.
func (s *service) candidatesForEpisode(ctx context.Context, ep *models.Episode, t *models.Transcript) ([]candidate, error) {
	regions, err := s.solicitRegions(ctx, ep, t)
	if err == nil && len(regions) > 0 {
		log.Printf("[DEBUG] analyzer: episode %d yielded %d regions from the full-transcript pass", ep.ID, len(regions))
		return regions, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		log.Printf("[WARN] analyzer: full-transcript pass failed for episode %d, falling back to windows: %v", ep.ID, err)
	} else {
		log.Printf("[WARN] analyzer: full-transcript pass returned no usable regions for episode %d, falling back to windows", ep.ID)
	}
	return s.scoreWindows(ctx, ep, t)
}

func (s *service) solicitRegions(ctx context.Context, ep *models.Episode, t *models.Transcript) ([]candidate, error) {
	duration := t.DurationSec()
	prompt := fmt.Sprintf("Podcast: %s\nEpisode: %s\nDuration: %s\n\nTranscript:\n%s",
		ep.Podcast.Title, ep.Title, timeutil.FormatHMS(int(math.Round(duration))), s.timestampedTranscript(t))

	raw, err := s.complete(ctx, solicitSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}
	var resp solicitResponse
	if err := llm.DecodeJSON(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding region response: %w", err)
	}

	var out []candidate
	for _, r := range resp.Regions {
		start := math.Max(0, r.StartSec)
		end := math.Min(r.EndSec, duration)
		if end <= start {
			log.Printf("[DEBUG] analyzer: dropping region %.0f-%.0fs of episode %d, empty after clamping", r.StartSec, r.EndSec, ep.ID)
			continue
		}
		out = append(out, newCandidate(ep, start, end, r.clipScores))
	}
	return out, nil
}

// scoreWindows rates fixed windows of the transcript in small concurrent
// batches, pausing between batches. A window whose scoring fails is dropped.
func (s *service) scoreWindows(ctx context.Context, ep *models.Episode, t *models.Transcript) ([]candidate, error) {
	wins := slidingWindows(t.DurationSec())
	if len(wins) == 0 {
		return nil, nil
	}

	var (
		mu  sync.Mutex
		out []candidate
	)
	for i := 0; i < len(wins); i += s.cfg.MaxConcurrentScores {
		if i > 0 {
			if err := sleepContext(ctx, s.cfg.ScoreBatchDelay); err != nil {
				return nil, err
			}
		}
		end := i + s.cfg.MaxConcurrentScores
		if end > len(wins) {
			end = len(wins)
		}

		var wg sync.WaitGroup
		for _, w := range wins[i:end] {
			wg.Add(1)
			go func(w window) {
				defer wg.Done()
				c, err := s.scoreWindow(ctx, ep, t, w)
				if err != nil {
					log.Printf("[WARN] analyzer: dropping window %.0f-%.0fs of episode %d: %v", w.startSec, w.endSec, ep.ID, err)
					return
				}
				mu.Lock()
				out = append(out, c)
				mu.Unlock()
			}(w)
		}
		wg.Wait()

		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	// Goroutines finish in arbitrary order
	sort.Slice(out, func(i, j int) bool { return out[i].startSec < out[j].startSec })
	log.Printf("[DEBUG] analyzer: scored %d of %d windows for episode %d", len(out), len(wins), ep.ID)
	return out, nil
}

func (s *service) scoreWindow(ctx context.Context, ep *models.Episode, t *models.Transcript, w window) (candidate, error) {
	excerpt := windowExcerpt(t, w)
	if strings.TrimSpace(excerpt) == "" {
		return candidate{}, fmt.Errorf("window has no transcript text")
	}
	prompt := fmt.Sprintf("Podcast: %s\nEpisode: %s\nExcerpt from %s to %s:\n\n%s",
		ep.Podcast.Title, ep.Title, timeutil.FormatHMS(int(w.startSec)), timeutil.FormatHMS(int(w.endSec)), excerpt)

	raw, err := s.complete(ctx, windowSystemPrompt, prompt)
	if err != nil {
		return candidate{}, err
	}
	var scores clipScores
	if err := llm.DecodeJSON(raw, &scores); err != nil {
		return candidate{}, fmt.Errorf("decoding window scores: %w", err)
	}
	return newCandidate(ep, w.startSec, w.endSec, scores), nil
}

func (s *service) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	raw, err := s.llm.CompleteJSON(ctx, systemPrompt, userPrompt)
	metrics.RecordLLMRequest("analyze", err)
	return raw, err
}

func newCandidate(ep *models.Episode, start, end float64, scores clipScores) candidate {
	scores = scores.clamped()
	return candidate{
		episodeID:    ep.ID,
		podcastTitle: ep.Podcast.Title,
		startSec:     start,
		endSec:       end,
		scores:       scores,
		score:        scores.composite(),
	}
}

// slidingWindows covers [0, durationSec] with overlapping fixed windows.
// Generation stops once a window reaches the end of the transcript.
func slidingWindows(durationSec float64) []window {
	var wins []window
	for start := 0.0; start < durationSec; start += windowStepSec {
		end := math.Min(start+windowSec, durationSec)
		if end <= start {
			break
		}
		wins = append(wins, window{startSec: start, endSec: end})
		if end >= durationSec {
			break
		}
	}
	return wins
}

func (s *service) timestampedTranscript(t *models.Transcript) string {
	var b strings.Builder
	for _, seg := range t.Segments {
		line := segmentLine(seg)
		if b.Len()+len(line) > s.cfg.MaxTranscriptChars {
			b.WriteString("[transcript truncated]\n")
			break
		}
		b.WriteString(line)
	}
	return b.String()
}

// windowExcerpt returns the transcript lines overlapping the window
func windowExcerpt(t *models.Transcript, w window) string {
	var b strings.Builder
	for _, seg := range t.Segments {
		if seg.EndSec <= w.startSec || seg.StartSec >= w.endSec {
			continue
		}
		b.WriteString(segmentLine(seg))
	}
	return b.String()
}

func segmentLine(seg models.TranscriptSegment) string {
	ts := timeutil.FormatHMS(int(seg.StartSec))
	if seg.Speaker != "" {
		return fmt.Sprintf("[%s] %s: %s\n", ts, seg.Speaker, seg.Text)
	}
	return fmt.Sprintf("[%s] %s\n", ts, seg.Text)
}

// selectClips walks the viable candidates best first and admits each one
// that fits the duration band, the remaining budget, the per-episode cap
// and does not overlap an already selected clip of the same episode.
func selectClips(viable []candidate, config *models.DigestConfig) ([]candidate, float64) {
	sorted := make([]candidate, len(viable))
	copy(sorted, viable)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.startSec != b.startSec {
			return a.startSec < b.startSec
		}
		return a.episodeID < b.episodeID
	})

	targetSec := float64(config.TargetLengthMinutes) * 60
	budget := contentFillRatio * targetSec
	lo, hi := config.ClipLengthRange()
	breadth := float64(config.BreadthDepth) / 100
	effectiveMin := lo + breadth*(hi-lo)*rangeTighten
	effectiveMax := hi - (1-breadth)*(hi-lo)*rangeTighten
	maxPerEpisode := int(math.Max(1, math.Round(1+4*breadth)))

	var selected []candidate
	perEpisode := make(map[uint]int)
	total := 0.0
	for _, c := range sorted {
		if total >= budget {
			break
		}
		d := c.durationSec()
		if d < bandFloor*effectiveMin || d > bandCeil*effectiveMax {
			continue
		}
		if total+d > budget {
			continue
		}
		if perEpisode[c.episodeID] >= maxPerEpisode {
			continue
		}
		if overlapsSelected(selected, c) {
			continue
		}
		selected = append(selected, c)
		perEpisode[c.episodeID]++
		total += d
	}
	return selected, total
}

func overlapsSelected(selected []candidate, c candidate) bool {
	for _, prev := range selected {
		if prev.episodeID != c.episodeID {
			continue
		}
		if c.startSec < prev.endSec && prev.startSec < c.endSec {
			return true
		}
	}
	return false
}

// orderForStructure arranges the selected clips into playback order.
// byTopic groups by show like byShow but leads each group with its
// strongest clip.
func orderForStructure(clips []candidate, structure string) {
	switch structure {
	case models.StructureByShow:
		sort.SliceStable(clips, func(i, j int) bool {
			a, b := clips[i], clips[j]
			if a.podcastTitle != b.podcastTitle {
				return a.podcastTitle < b.podcastTitle
			}
			if a.startSec != b.startSec {
				return a.startSec < b.startSec
			}
			return a.episodeID < b.episodeID
		})
	case models.StructureByTopic:
		sort.SliceStable(clips, func(i, j int) bool {
			a, b := clips[i], clips[j]
			if a.podcastTitle != b.podcastTitle {
				return a.podcastTitle < b.podcastTitle
			}
			if a.score != b.score {
				return a.score > b.score
			}
			if a.startSec != b.startSec {
				return a.startSec < b.startSec
			}
			return a.episodeID < b.episodeID
		})
	case models.StructureChronological:
		sort.SliceStable(clips, func(i, j int) bool {
			a, b := clips[i], clips[j]
			if a.episodeID != b.episodeID {
				return a.episodeID < b.episodeID
			}
			return a.startSec < b.startSec
		})
	default: // byScore
		sort.SliceStable(clips, func(i, j int) bool {
			a, b := clips[i], clips[j]
			if a.score != b.score {
				return a.score > b.score
			}
			if a.startSec != b.startSec {
				return a.startSec < b.startSec
			}
			return a.episodeID < b.episodeID
		})
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
