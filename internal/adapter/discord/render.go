package discord

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"cert-quiz-service/internal/adapter"
	"cert-quiz-service/internal/config"
	"cert-quiz-service/internal/domain"
	"cert-quiz-service/internal/engine"
)

var answerEmojis = []string{"🇦", "🇧", "🇨", "🇩"}

// emojiIndex maps a reaction emoji back to the answer index.
var emojiIndex = map[string]int{"🇦": 0, "🇧": 1, "🇨": 2, "🇩": 3}

func questionEmbed(cfg config.BotConfig, eng *engine.Engine, q domain.Question, title string, revealDelay time.Duration) Embed {
	if title == "" {
		title = fmt.Sprintf("%s %s Practice Question", cfg.Emoji, eng.ExamUpper())
	}

	var desc strings.Builder
	desc.WriteString("**" + q.Prompt + "**\n\n")
	for i, option := range q.Options {
		fmt.Fprintf(&desc, "%s  %s\n", answerEmojis[i], option)
	}

	return Embed{
		Title:       title,
		Description: desc.String(),
		Color:       cfg.ColorInt(),
		Fields: []EmbedField{
			{Name: "📁 Section", Value: cfg.SectionName(q.Section), Inline: true},
			{Name: "Difficulty", Value: adapter.DifficultyBadge(q.Difficulty), Inline: true},
			{Name: "📖 Topic", Value: q.Topic, Inline: true},
		},
		Footer: &EmbedFooter{
			Text: fmt.Sprintf("React with your answer! Revealed in %d seconds", int(revealDelay.Seconds())),
		},
	}
}

func revealEmbed(cfg config.BotConfig, quiz *adapter.ActiveQuiz, result adapter.RevealResult) Embed {
	q := quiz.Question

	var desc strings.Builder
	fmt.Fprintf(&desc, "**%s  %s**\n", answerEmojis[q.CorrectAnswer], q.Options[q.CorrectAnswer])
	if q.Explanation != "" {
		fmt.Fprintf(&desc, "\n💡 %s\n", adapter.TruncateExplanation(q.Explanation, 1000))
	}

	embed := Embed{
		Title:       "⏰ Time's up! The answer is " + adapter.AnswerLetter(q.CorrectAnswer),
		Description: desc.String(),
		Color:       cfg.ColorInt(),
	}

	if len(result.CorrectUsers) > 0 {
		embed.Fields = append(embed.Fields, EmbedField{
			Name:  fmt.Sprintf("🎉 Correct (%d)", len(result.CorrectUsers)),
			Value: joinNames(result.CorrectUsers),
		})
	}
	if len(result.WrongUsers) > 0 {
		embed.Fields = append(embed.Fields, EmbedField{
			Name:  fmt.Sprintf("❌ Incorrect (%d)", len(result.WrongUsers)),
			Value: joinNames(result.WrongUsers),
		})
	}
	if len(result.CorrectUsers)+len(result.WrongUsers) == 0 {
		embed.Fields = append(embed.Fields, EmbedField{
			Name:  "😴 No answers",
			Value: "Nobody answered this one!",
		})
	}
	if cta := adapter.CTA(cfg); cta != "" {
		embed.Footer = &EmbedFooter{Text: cta}
	}
	return embed
}

func leaderboardEmbed(cfg config.BotConfig, eng *engine.Engine, top []domain.UserStats) Embed {
	medals := []string{"🥇", "🥈", "🥉"}
	var desc strings.Builder
	for i, user := range top {
		medal := fmt.Sprintf("`%2d.`", i+1)
		if i < len(medals) {
			medal = medals[i]
		}
		streak := ""
		if user.Streak >= 3 {
			streak = fmt.Sprintf(" 🔥%d", user.Streak)
		}
		fmt.Fprintf(&desc, "%s **%s** — %d/%d (%d%%)%s\n",
			medal, user.Username, user.Correct, user.Total, user.Accuracy(), streak)
	}

	embed := Embed{
		Title:       fmt.Sprintf("🏆 %s Quiz Leaderboard", eng.ExamUpper()),
		Description: desc.String(),
		Color:       cfg.ColorInt(),
	}
	if cta := adapter.CTA(cfg); cta != "" {
		embed.Footer = &EmbedFooter{Text: cta}
	}
	return embed
}

func statsEmbed(cfg config.BotConfig, eng *engine.Engine, username string, stats domain.UserStats) Embed {
	var desc strings.Builder
	fmt.Fprintf(&desc, "✅ **%d** / %d correct (%d%%)\n", stats.Correct, stats.Total, stats.Accuracy())
	fmt.Fprintf(&desc, "🔥 Current streak: **%d**\n", stats.Streak)
	fmt.Fprintf(&desc, "⭐ Best streak: **%d**\n", stats.BestStreak)

	embed := Embed{
		Title:       fmt.Sprintf("📊 %s's %s Stats", username, eng.ExamUpper()),
		Description: desc.String(),
		Color:       cfg.ColorInt(),
	}

	if len(stats.BySection) > 0 {
		var sb strings.Builder
		for _, sec := range sortedTagKeys(stats.BySection) {
			s := stats.BySection[sec]
			fmt.Fprintf(&sb, "`%s` %s: %d/%d (%d%%)\n",
				sec, cfg.SectionName(sec), s.Correct, s.Total, tagPercent(s))
		}
		embed.Fields = append(embed.Fields, EmbedField{Name: "By Section", Value: sb.String()})
	}
	if len(stats.ByDifficulty) > 0 {
		var sb strings.Builder
		for _, diff := range []domain.Difficulty{domain.DifficultyEasy, domain.DifficultyMedium, domain.DifficultyHard} {
			if s, ok := stats.ByDifficulty[string(diff)]; ok {
				fmt.Fprintf(&sb, "%s: %d/%d (%d%%)\n",
					adapter.DifficultyBadge(diff), s.Correct, s.Total, tagPercent(s))
			}
		}
		embed.Fields = append(embed.Fields, EmbedField{Name: "By Difficulty", Value: sb.String()})
	}
	if cta := adapter.CTA(cfg); cta != "" {
		embed.Footer = &EmbedFooter{Text: cta}
	}
	return embed
}

func sectionsEmbed(cfg config.BotConfig, eng *engine.Engine, prefix string) Embed {
	var desc strings.Builder
	for _, sec := range eng.Sections() {
		fmt.Fprintf(&desc, "`%s` — %s (%d questions)\n", sec, cfg.SectionName(sec), eng.SectionCount(sec))
	}
	if sections := eng.Sections(); len(sections) > 0 {
		fmt.Fprintf(&desc, "\nUse `%squiz %s %s` to practice a specific section",
			prefix, eng.Exam(), sections[0])
	}
	return Embed{
		Title:       fmt.Sprintf("%s %s Sections", cfg.Emoji, eng.ExamUpper()),
		Description: desc.String(),
		Color:       cfg.ColorInt(),
	}
}

func helpEmbed(exams *adapter.ExamSet, prefix string, revealDelay time.Duration) Embed {
	var commands strings.Builder
	fmt.Fprintf(&commands, "`%squiz` — Random practice question\n", prefix)
	fmt.Fprintf(&commands, "`%squiz cpa FAR hard` — Filtered question\n", prefix)
	fmt.Fprintf(&commands, "`%sdaily` — Question of the day\n", prefix)
	fmt.Fprintf(&commands, "`%sleaderboard` — Server rankings\n", prefix)
	fmt.Fprintf(&commands, "`%sstats` — Your personal stats\n", prefix)
	fmt.Fprintf(&commands, "`%ssections` — Available exam sections\n", prefix)

	var loaded strings.Builder
	for _, exam := range exams.Exams() {
		eng, _ := exams.Engine(exam)
		cfg := exams.Config(exam)
		fmt.Fprintf(&loaded, "%s **%s** — %d questions\n", cfg.Emoji, eng.ExamUpper(), eng.QuestionCount())
	}

	return Embed{
		Title: "📚 Quiz Bot — Help",
		Fields: []EmbedField{
			{Name: "Commands", Value: commands.String()},
			{Name: "Exams", Value: loaded.String()},
		},
		Footer: &EmbedFooter{
			Text: fmt.Sprintf("React with 🇦 🇧 🇨 🇩 to answer. Revealed after %d seconds.",
				int(revealDelay.Seconds())),
		},
	}
}

func joinNames(names []string) string {
	if len(names) > 15 {
		names = append(names[:15:15], fmt.Sprintf("and %d more", len(names)-15))
	}
	return strings.Join(names, ", ")
}

func sortedTagKeys(tags map[string]*domain.TagStats) []string {
	keys := make([]string, 0, len(tags))
	for tag := range tags {
		keys = append(keys, tag)
	}
	sort.Strings(keys)
	return keys
}

func tagPercent(s *domain.TagStats) int {
	if s.Total == 0 {
		return 0
	}
	return int(float64(s.Correct)/float64(s.Total)*100 + 0.5)
}
