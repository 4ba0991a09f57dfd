package voice

import "strings"

// DefaultVoiceID 是未指定音色时使用的声音。
const DefaultVoiceID = "matthew"

var knownVoices = map[string]struct{}{
	"matthew":  {},
	"tiffany":  {},
	"amy":      {},
	"ambre":    {},
	"florian":  {},
	"beatrice": {},
	"lorenzo":  {},
	"greta":    {},
	"lennart":  {},
	"lupe":     {},
	"carlos":   {},
}

var voiceAliases = map[string]string{
	"male":    "matthew",
	"female":  "tiffany",
	"british": "amy",
	"en-gb":   "amy",
	"en_gb":   "amy",
}

// NormalizeVoiceID 把音色名规范为端点支持的小写 ID，未知取值回退到 fallback。
func NormalizeVoiceID(voice, fallback string) string {
	normalized := strings.ToLower(strings.TrimSpace(voice))
	if alias, ok := voiceAliases[normalized]; ok {
		return alias
	}
	if _, ok := knownVoices[normalized]; ok {
		return normalized
	}
	fallback = strings.ToLower(strings.TrimSpace(fallback))
	if _, ok := knownVoices[fallback]; ok {
		return fallback
	}
	return DefaultVoiceID
}

// KnownVoices 返回支持的音色列表。
func KnownVoices() []string {
	return []string{"matthew", "tiffany", "amy", "ambre", "florian", "beatrice", "lorenzo", "greta", "lennart", "lupe", "carlos"}
}
