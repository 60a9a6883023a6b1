package narrator

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/poddigest/poddigest/internal/metrics"
	"github.com/poddigest/poddigest/internal/models"
	"github.com/poddigest/poddigest/internal/services/digests"
	"github.com/poddigest/poddigest/internal/services/episodes"
	"github.com/poddigest/poddigest/internal/services/transcripts"
	"github.com/poddigest/poddigest/internal/storage"
	"github.com/poddigest/poddigest/pkg/timeutil"
)

// scriptDelimiter separates consecutive scripts in the model's response
const scriptDelimiter = "===SEGMENT==="

const (
	// wordsPerSecond is the spoken-word rate used when the audio cannot
	// be probed.
	wordsPerSecond = 2.5

	// maxExcerptChars caps the transcript excerpt quoted per clip in the
	// script prompt.
	maxExcerptChars = 500
)

type service struct {
	digests     digests.Service
	episodes    episodes.Service
	transcripts transcripts.Service
	llm         ScriptWriter
	tts         Synthesizer
	prober      Prober
	store       storage.Store
}

// NewService creates a new narrator service. prober may be nil; durations
// then come from the spoken-word estimate.
func NewService(digestService digests.Service, episodeService episodes.Service, transcriptService transcripts.Service, writer ScriptWriter, synth Synthesizer, prober Prober, store storage.Store) Service {
	return &service{
		digests:     digestService,
		episodes:    episodeService,
		transcripts: transcriptService,
		llm:         writer,
		tts:         synth,
		prober:      prober,
		store:       store,
	}
}

// clipContext is what the script prompt knows about one clip
type clipContext struct {
	podcastTitle string
	episodeTitle string
	durationSec  float64
	excerpt      string
}

// ProduceNarration generates, synthesizes and stores the digest's
// narration segments
func (s *service) ProduceNarration(ctx context.Context, digestID string, config *models.DigestConfig) ([]models.NarrationAudio, error) {
	if config == nil {
		return nil, fmt.Errorf("narrating digest %s: config is required", digestID)
	}

	digest, err := s.digests.GetDigest(ctx, digestID)
	if err != nil {
		return nil, fmt.Errorf("loading digest %s: %w", digestID, err)
	}
	if len(digest.Clips) == 0 {
		return nil, models.NewContractError("no-clips", "digest has no selected clips to narrate",
			fmt.Sprintf("digest %s", digestID), nil)
	}

	clips, err := s.clipContexts(ctx, digest)
	if err != nil {
		return nil, err
	}

	scripts, err := s.writeScripts(ctx, digest, config, clips)
	if err != nil {
		return nil, err
	}

	// Synthesis is sequential; the provider is rate limited client-side.
	out := make([]models.NarrationAudio, 0, len(scripts))
	for i, script := range scripts {
		kind := models.NarrationKindAt(i, len(digest.Clips))

		audio, err := s.tts.Synthesize(ctx, script, config.VoiceID)
		metrics.RecordLLMRequest("tts", err)
		if err != nil {
			return nil, fmt.Errorf("synthesizing %s segment %d of digest %s: %w", kind, i, digestID, err)
		}

		key := storage.NarrationKey(digestID, i, kind)
		meta := map[string]string{"digestId": digestID, "kind": kind}
		if err := s.store.Put(ctx, key, bytes.NewReader(audio), "audio/mpeg", meta); err != nil {
			return nil, fmt.Errorf("storing narration %s: %w", key, err)
		}

		duration := s.measureDuration(ctx, audio, script)
		out = append(out, models.NarrationAudio{
			Position:    i,
			Kind:        kind,
			ObjectKey:   key,
			DurationSec: duration,
		})
		log.Printf("[DEBUG] narrator: stored %s (%.1fs, %d bytes)", key, duration, len(audio))
	}

	log.Printf("[INFO] narrator: digest %s has %d narration segments for %d clips", digestID, len(out), len(digest.Clips))
	return out, nil
}

// clipContexts resolves titles and transcript excerpts for the prompt.
// Missing transcripts degrade to excerpt-free entries.
func (s *service) clipContexts(ctx context.Context, digest *models.Digest) ([]clipContext, error) {
	ids := make([]uint, 0, len(digest.Clips))
	seen := make(map[uint]bool)
	for i := range digest.Clips {
		if id := digest.Clips[i].EpisodeID; !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	eps, err := s.episodes.GetEpisodesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading episodes for digest %s: %w", digest.ID, err)
	}
	byID := make(map[uint]*models.Episode, len(eps))
	for i := range eps {
		byID[eps[i].ID] = &eps[i]
	}

	transcriptsByEpisode := make(map[uint]*models.Transcript)
	trs, err := s.transcripts.ListCompletedByEpisodeIDs(ctx, ids)
	if err != nil {
		log.Printf("[WARN] narrator: loading transcripts for digest %s, continuing without excerpts: %v", digest.ID, err)
	} else {
		for i := range trs {
			transcriptsByEpisode[trs[i].EpisodeID] = &trs[i]
		}
	}

	out := make([]clipContext, len(digest.Clips))
	for i := range digest.Clips {
		clip := &digest.Clips[i]
		cc := clipContext{
			podcastTitle: "Unknown Show",
			episodeTitle: fmt.Sprintf("episode %d", clip.EpisodeID),
			durationSec:  clip.DurationSec(),
		}
		if ep := byID[clip.EpisodeID]; ep != nil {
			cc.podcastTitle = ep.Podcast.Title
			cc.episodeTitle = ep.Title
		}
		cc.excerpt = clipExcerpt(transcriptsByEpisode[clip.EpisodeID], clip)
		out[i] = cc
	}
	return out, nil
}

// writeScripts asks the model for every script in one call and validates
// the segment count.
func (s *service) writeScripts(ctx context.Context, digest *models.Digest, config *models.DigestConfig, clips []clipContext) ([]string, error) {
	want := len(clips) + 2

	raw, err := s.llm.Complete(ctx, narratorSystemPrompt(config.NarrationDepth, want, len(clips)), narrationBrief(digest, clips))
	metrics.RecordLLMRequest("narrate", err)
	if err != nil {
		return nil, fmt.Errorf("generating narration scripts for digest %s: %w", digest.ID, err)
	}

	scripts := splitScripts(raw)
	if len(scripts) != want {
		details := fmt.Sprintf("expected %d scripts for %d clips, model returned %d", want, len(clips), len(scripts))
		return nil, models.NewStageError("missing-narration", "script generation returned the wrong number of segments", details, nil)
	}
	return scripts, nil
}

func splitScripts(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, scriptDelimiter) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func narratorSystemPrompt(depth string, total, clipCount int) string {
	return fmt.Sprintf("You are the narrator of a personalized weekly podcast digest. "+
		"Write the spoken scripts for one digest in order: an intro welcoming the listener and previewing the week, "+
		"one transition introducing each clip, and an outro signing off. %s "+
		"Write plain spoken prose only, with no headings, no stage directions and no markdown. "+
		"Separate consecutive scripts with a line containing exactly %s. "+
		"Emit exactly %d scripts: 1 intro, %d transitions, 1 outro.",
		depthGuidance(depth), scriptDelimiter, total, clipCount)
}

func depthGuidance(depth string) string {
	switch depth {
	case models.NarrationBrief:
		return "Keep it brief: the intro runs 2 to 3 sentences, each transition 1 to 2 sentences (about 15 seconds spoken), the outro 1 to 2 sentences."
	case models.NarrationDetailed:
		return "Be thorough: the intro runs 6 to 8 sentences, each transition 4 to 6 sentences (about 45 seconds spoken), the outro 4 to 6 sentences."
	default:
		return "The intro runs 4 to 6 sentences, each transition 2 to 4 sentences (about 30 seconds spoken), the outro 2 to 4 sentences."
	}
}

func narrationBrief(digest *models.Digest, clips []clipContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Digest: %s\nWeek: %s to %s\nClips in playback order:\n",
		digest.Title,
		digest.WeekStart.UTC().Format("January 2"),
		digest.WeekEnd.UTC().Format("January 2, 2006"))
	for i, c := range clips {
		fmt.Fprintf(&b, "%d. %s: %s (%s)\n", i+1, c.podcastTitle, c.episodeTitle, timeutil.FormatHMS(int(c.durationSec)))
		if c.excerpt != "" {
			fmt.Fprintf(&b, "   Excerpt: %s\n", c.excerpt)
		}
	}
	return b.String()
}

func clipExcerpt(t *models.Transcript, clip *models.DigestClip) string {
	if t == nil {
		return ""
	}
	var b strings.Builder
	for _, seg := range t.Segments {
		if seg.EndSec <= clip.StartSec || seg.StartSec >= clip.EndSec {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(strings.TrimSpace(seg.Text))
		if b.Len() >= maxExcerptChars {
			break
		}
	}
	excerpt := b.String()
	if runes := []rune(excerpt); len(runes) > maxExcerptChars {
		excerpt = string(runes[:maxExcerptChars]) + "..."
	}
	return excerpt
}

// measureDuration probes the synthesized audio when a prober is wired,
// falling back to the spoken-word estimate.
func (s *service) measureDuration(ctx context.Context, audio []byte, script string) float64 {
	if s.prober != nil {
		d, err := s.probeBytes(ctx, audio)
		if err == nil && d > 0 {
			return d
		}
		if err != nil {
			log.Printf("[WARN] narrator: probing narration audio, using word estimate: %v", err)
		}
	}
	return float64(len(strings.Fields(script))) / wordsPerSecond
}

func (s *service) probeBytes(ctx context.Context, audio []byte) (float64, error) {
	f, err := os.CreateTemp("", "narration-*.mp3")
	if err != nil {
		return 0, fmt.Errorf("creating probe file: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(audio); err != nil {
		f.Close()
		return 0, fmt.Errorf("writing probe file: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("closing probe file: %w", err)
	}

	meta, err := s.prober.GetMetadata(ctx, f.Name())
	if err != nil {
		return 0, err
	}
	return meta.Duration, nil
}
