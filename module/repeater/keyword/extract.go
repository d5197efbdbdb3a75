package keyword

import (
	"strings"

	"github.com/go-ego/gse"
	"github.com/go-ego/gse/hmm/extracker"
	"github.com/mozillazg/go-pinyin"

	"github.com/YlovexLN/Pallas-Bot/logger"
	"github.com/YlovexLN/Pallas-Bot/module/repeater/model"
)

// Extractor 基于 TF-IDF 的关键词提取，对应 jieba.analyse.extract_tags
type Extractor struct {
	seg    gse.Segmenter
	tagger extracker.TagExtracter
	pyArgs pinyin.Args
}

// NewExtractor 加载内置词典和 idf，启动时调用一次
func NewExtractor() (*Extractor, error) {
	e := &Extractor{}
	if err := e.seg.LoadDict(); err != nil {
		return nil, err
	}
	e.tagger.WithGse(e.seg)
	if err := e.tagger.LoadIdf(); err != nil {
		return nil, err
	}

	e.pyArgs = pinyin.NewArgs()
	// 非汉字原样保留，和 pypinyin errors="default" 一致
	e.pyArgs.Fallback = func(r rune, a pinyin.Args) []string {
		return []string{string(r)}
	}

	logger.Info("keyword extractor ready")
	return e, nil
}

// Extract 取文本中权重最高的几个关键词，最多 KeywordsSize 个
// 提取不到返回空 slice，不报错
func (e *Extractor) Extract(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	segs := e.tagger.ExtractTags(text, model.KeywordsSize)
	words := make([]string, 0, len(segs))
	for _, s := range segs {
		words = append(words, s.Text)
	}
	return words
}

// Pinyin 拼音折叠，小写拼接
func (e *Extractor) Pinyin(text string) string {
	var b strings.Builder
	for _, items := range pinyin.Pinyin(text, e.pyArgs) {
		if len(items) > 0 {
			b.WriteString(items[0])
		}
	}
	return strings.ToLower(b.String())
}
