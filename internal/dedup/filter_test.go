package dedup

import (
	"math"
	"testing"
)

func TestSimilarityBoundsAndSymmetry(t *testing.T) {
	f := New(0, nil)

	a := "강남역 근처 심야 약국 목록과 찾아가는 길"
	b := "판교 신도시 병원 옆 건강 상담 후기"

	if got, want := f.Similarity(a, b), f.Similarity(b, a); got != want {
		t.Fatalf("similarity not symmetric: %f vs %f", got, want)
	}
	if got := f.Similarity(a, a); math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("self similarity expected 1.0 got %f", got)
	}
	if got := f.Similarity(a, ""); got != 0 {
		t.Fatalf("empty input expected 0 got %f", got)
	}
	// All tokens removed by stop words and the short-token rule.
	if got := f.Similarity("약국 영업 시간 정보", a); got != 0 {
		t.Fatalf("stop-word-only input expected 0 got %f", got)
	}
}

func TestFindNearDuplicatesFlagsHighOverlap(t *testing.T) {
	f := New(0.58, nil)
	corpus := []string{"서울 강남 약국은 평일 9시부터 영업합니다"}

	matches := f.FindNearDuplicates("서울 강남 약국은 평일 9시에 엽니다", corpus)
	if len(matches) != 1 {
		t.Fatalf("expected 1 match got %d", len(matches))
	}
	if matches[0].Score < 0.58 {
		t.Fatalf("match score %f below threshold", matches[0].Score)
	}

	matches = f.FindNearDuplicates("부산 해운대 맛집 추천 리스트", corpus)
	if len(matches) != 0 {
		t.Fatalf("unrelated sentence flagged: %+v", matches)
	}
}

func TestFindNearDuplicatesTopThreeDescending(t *testing.T) {
	f := New(0.2, []string{})
	corpus := []string{
		"서울 강남 약국 주말 진료",
		"서울 강남 약국 주말 진료 연장",
		"서울 강남 약국",
		"서울 강남 약국 주말",
		"대구 수성구 도서관 휴관일",
	}

	matches := f.FindNearDuplicates("서울 강남 약국 주말 진료", corpus)
	if len(matches) != 3 {
		t.Fatalf("expected top 3 got %d", len(matches))
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Score > matches[i-1].Score {
			t.Fatalf("matches not descending: %+v", matches)
		}
	}
	if matches[0].Text != "서울 강남 약국 주말 진료" {
		t.Fatalf("exact match should rank first, got %q", matches[0].Text)
	}
}

func TestNormalizationKeepsAllowedPunctuation(t *testing.T) {
	f := New(0.5, []string{})
	// Colon, tilde, and hyphen survive normalization; the rest is stripped.
	got := f.Similarity("영업시간: 09:00~18:00 (월-금)!!", "영업시간: 09:00~18:00 월-금")
	if math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("expected identical token sets after normalization, similarity %f", got)
	}
}

func TestEmptyCandidateNeverMatches(t *testing.T) {
	f := New(0.58, nil)
	if matches := f.FindNearDuplicates("", []string{"서울 강남 약국은 평일 9시부터 영업합니다"}); matches != nil {
		t.Fatalf("empty candidate produced matches: %+v", matches)
	}
}
