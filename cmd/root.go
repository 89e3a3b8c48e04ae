// Package cmd defines the gurag command-line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gurag",
	Short: "gurag - 스스로 학습하는 질의응답 서비스",
	Long: `gurag는 시맨틱 캐시와 실시간 검색을 결합한 질의응답 서비스입니다.

질문을 지식 베이스 검색, 실시간 소스(arXiv, Hugging Face), 또는 둘 다로
라우팅하고, 생성된 답변을 의미 기반으로 캐시합니다. 주기적인 유지보수
사이클이 인기 질문을 미리 생성하고, 부정 평가를 받은 답변을 재생성하며,
오래된 캐시를 정리합니다.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
