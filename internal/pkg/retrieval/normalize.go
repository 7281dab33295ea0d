package retrieval

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/qs3c/viral_go_server/internal/model"
)

// Normalize 把平台原始数据集转换为 Post，缺少必填数值或出现负数的条目被丢弃
func Normalize(platform string, payload []byte) (*Result, error) {
	items := gjson.ParseBytes(payload)
	if !items.IsArray() {
		return nil, fmt.Errorf("%w: dataset is not an array", ErrUpstream)
	}

	var parse func(gjson.Result) (*model.Post, bool)
	switch platform {
	case model.PlatformInstagram:
		parse = parseInstagram
	case model.PlatformTikTok:
		parse = parseTikTok
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, platform)
	}

	result := &Result{Posts: []*model.Post{}}
	notFound := 0
	total := 0

	items.ForEach(func(_, item gjson.Result) bool {
		total++
		// 外部任务对不存在的账号返回 {"error": "..."} 占位条目
		if errItem := item.Get("error"); errItem.Exists() {
			if isNotFound(errItem.String()) {
				notFound++
			}
			result.Dropped++
			return true
		}

		post, ok := parse(item)
		if !ok {
			result.Dropped++
			return true
		}
		result.Posts = append(result.Posts, post)
		return true
	})

	if len(result.Posts) == 0 && notFound > 0 && notFound == total {
		return nil, ErrTargetNotFound
	}
	return result, nil
}

func isNotFound(code string) bool {
	code = strings.ToLower(code)
	return strings.Contains(code, "not_found") || strings.Contains(code, "no_items") ||
		strings.Contains(code, "not found")
}

func parseInstagram(item gjson.Result) (*model.Post, bool) {
	id := firstString(item, "id", "shortCode")
	if id == "" {
		return nil, false
	}

	postURL := item.Get("url").String()
	if postURL == "" {
		if code := item.Get("shortCode").String(); code != "" {
			postURL = "https://www.instagram.com/p/" + code + "/"
		}
	}

	published, ok := parseTime(item.Get("timestamp"))
	if !ok {
		return nil, false
	}

	views, ok := firstCount(item, "videoViewCount", "videoPlayCount")
	if !ok {
		return nil, false
	}
	plays, ok := firstCount(item, "videoPlayCount", "videoViewCount")
	if !ok {
		return nil, false
	}
	likes, ok := count(item, "likesCount")
	if !ok {
		return nil, false
	}
	comments, ok := count(item, "commentsCount")
	if !ok {
		return nil, false
	}

	post := &model.Post{
		ID:            id,
		URL:           postURL,
		Platform:      model.PlatformInstagram,
		OwnerUsername: item.Get("ownerUsername").String(),
		Caption:       item.Get("caption").String(),
		PublishedAt:   published,
		ViewCount:     views,
		PlayCount:     plays,
		LikeCount:     likes,
		CommentCount:  comments,
		VideoURL:      item.Get("videoUrl").String(),
		ThumbnailURL:  item.Get("displayUrl").String(),
	}
	shares, ok := optionalCount(item, "sharesCount")
	if !ok {
		return nil, false
	}
	post.ShareCount = shares

	post.EngagementRatio = EngagementRatio(post)
	return post, true
}

func parseTikTok(item gjson.Result) (*model.Post, bool) {
	id := item.Get("id").String()
	postURL := item.Get("webVideoUrl").String()
	if id == "" || postURL == "" {
		return nil, false
	}

	published, ok := parseTime(item.Get("createTimeISO"))
	if !ok {
		if ts := item.Get("createTime"); ts.Type == gjson.Number && ts.Int() > 0 {
			published = time.Unix(ts.Int(), 0).UTC()
		} else {
			return nil, false
		}
	}

	plays, ok := count(item, "playCount")
	if !ok {
		return nil, false
	}
	likes, ok := count(item, "diggCount")
	if !ok {
		return nil, false
	}
	comments, ok := count(item, "commentCount")
	if !ok {
		return nil, false
	}

	post := &model.Post{
		ID:            id,
		URL:           postURL,
		Platform:      model.PlatformTikTok,
		OwnerUsername: item.Get("authorMeta.name").String(),
		Caption:       item.Get("text").String(),
		PublishedAt:   published,
		ViewCount:     plays,
		PlayCount:     plays,
		LikeCount:     likes,
		CommentCount:  comments,
		VideoURL:      firstString(item, "videoMeta.downloadAddr", "mediaUrls.0"),
		ThumbnailURL:  item.Get("videoMeta.coverUrl").String(),
	}
	shares, ok := optionalCount(item, "shareCount")
	if !ok {
		return nil, false
	}
	post.ShareCount = shares

	post.EngagementRatio = EngagementRatio(post)
	return post, true
}

// EngagementRatio (点赞+评论+分享)/播放 的百分比，保留两位小数
func EngagementRatio(p *model.Post) float64 {
	if p.ViewCount <= 0 {
		return 0
	}
	interactions := p.LikeCount + p.CommentCount
	if p.ShareCount != nil {
		interactions += *p.ShareCount
	}
	return math.Round(float64(interactions)/float64(p.ViewCount)*100*100) / 100
}

func count(item gjson.Result, path string) (int64, bool) {
	v := item.Get(path)
	if v.Type != gjson.Number {
		return 0, false
	}
	n := v.Int()
	return n, n >= 0
}

func firstCount(item gjson.Result, paths ...string) (int64, bool) {
	for _, p := range paths {
		if item.Get(p).Exists() {
			return count(item, p)
		}
	}
	return 0, false
}

// optionalCount 字段不存在返回 nil；存在但非法则整条丢弃
func optionalCount(item gjson.Result, path string) (*int64, bool) {
	v := item.Get(path)
	if !v.Exists() || v.Type == gjson.Null {
		return nil, true
	}
	n, ok := count(item, path)
	if !ok {
		return nil, false
	}
	return &n, true
}

func firstString(item gjson.Result, paths ...string) string {
	for _, p := range paths {
		if s := item.Get(p).String(); s != "" {
			return s
		}
	}
	return ""
}

func parseTime(v gjson.Result) (time.Time, bool) {
	if v.Type != gjson.String {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, v.String())
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
