package emotion

import (
	"strings"
)

// Label 表示学生在一轮对话中表现出的学习情绪。
type Label string

const (
	Neutral    Label = "neutral"
	Confused   Label = "confused"
	Frustrated Label = "frustrated"
	Anxious    Label = "anxious"
	Confident  Label = "confident"
	Curious    Label = "curious"
)

// Labels 返回所有支持的标签。
func Labels() []Label {
	return []Label{Neutral, Confused, Frustrated, Anxious, Confident, Curious}
}

// ParseLabel 解析标签名，大小写不敏感。
func ParseLabel(raw string) (Label, bool) {
	normalized := Label(strings.ToLower(strings.TrimSpace(raw)))
	for _, l := range Labels() {
		if l == normalized {
			return l, true
		}
	}
	return "", false
}

// Decision 给出情绪识别结果以及强度（1~5）。
type Decision struct {
	Emotion Label   `json:"emotion"`
	Scale   float32 `json:"scale"`
	Score   int     `json:"score"`
}

var keywordBuckets = map[Label][]string{
	Confused: {
		"不懂", "不明白", "没听懂", "搞不清", "什么意思", "为什么", "怎么算", "糊涂", "看不懂",
		"don't understand", "dont understand", "don't get", "confused", "lost", "what do you mean",
		"makes no sense", "how come", "i'm not sure", "not sure",
	},
	Frustrated: {
		"烦", "受够了", "太难了", "学不会", "放弃", "讨厌", "又错了", "算了", "气死",
		"frustrated", "give up", "too hard", "i hate", "annoying", "this is stupid", "wrong again",
		"i can't", "i cant", "ugh",
	},
	Anxious: {
		"紧张", "害怕", "担心", "考试", "焦虑", "怕错", "来不及",
		"nervous", "worried", "scared", "afraid", "anxious", "test tomorrow", "exam", "panic",
	},
	Confident: {
		"懂了", "明白了", "原来如此", "简单", "会了", "我来试试", "知道了",
		"got it", "i see", "makes sense", "easy", "i know", "that's right", "understand now", "let me try",
	},
	Curious: {
		"如果", "还有", "能不能", "想知道", "再讲", "有意思", "举个例子",
		"what if", "why does", "tell me more", "interesting", "can you show", "another example", "how about",
	},
}

// Analyze 根据学生的一句话推断学习情绪。
func Analyze(utterance string) Decision {
	scored := scoreText(utterance)
	if scored.Score == 0 {
		return Decision{Emotion: Neutral, Scale: 3, Score: 0}
	}

	scale := 2 + float32(scored.Score)/4
	if scored.Emotion == Frustrated || scored.Emotion == Anxious {
		scale += 0.5
	}
	if scale < 1 {
		scale = 1
	}
	if scale > 5 {
		scale = 5
	}
	return Decision{Emotion: scored.Emotion, Scale: scale, Score: scored.Score}
}

func scoreText(text string) Decision {
	normalized := strings.TrimSpace(strings.ToLower(text))
	if normalized == "" {
		return Decision{Emotion: Neutral}
	}

	scores := make(map[Label]int)
	for label, keywords := range keywordBuckets {
		for _, word := range keywords {
			if strings.Contains(normalized, word) {
				scores[label] += 3
			}
		}
	}

	// 连续问号更像困惑，单个问号更像好奇
	questions := strings.Count(text, "?") + strings.Count(text, "？")
	switch {
	case questions > 1:
		scores[Confused] += questions
	case questions == 1:
		scores[Curious]++
	}
	if exclamations := strings.Count(text, "!") + strings.Count(text, "！"); exclamations > 1 && scores[Frustrated] > 0 {
		scores[Frustrated] += exclamations
	}

	best := Neutral
	bestScore := 0
	for _, label := range Labels() {
		if s := scores[label]; s > bestScore {
			best, bestScore = label, s
		}
	}
	return Decision{Emotion: best, Score: bestScore}
}
