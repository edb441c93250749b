package controller

import (
	"context"
	"net/http"
	"strconv"

	"speaking_backend/internal/model"
	"speaking_backend/internal/service"
	"speaking_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// SpeakingAPI 控制器依赖的口语服务能力
type SpeakingAPI interface {
	SubmitAnswerWithAutoAttempt(ctx context.Context, req service.SubmitRequest) service.SubmitResult
	ValidateAttempt(attemptID, userID uint) (service.ErrorKind, error)
	CompleteAttempt(attemptID, userID uint) (*model.ExamAttempt, error)
	GetAttemptSummary(attemptID, userID uint) (*service.AttemptSummary, error)
	RecognizeSpeech(ctx context.Context, audioURL, language string) (string, error)
	Rescore(attemptID uint) (*service.RescoreReport, error)
}

type SpeakingController struct {
	Service SpeakingAPI
}

func NewSpeakingController(svc SpeakingAPI) *SpeakingController {
	return &SpeakingController{Service: svc}
}

// statusForKind 错误分类到 HTTP 状态码
func statusForKind(kind service.ErrorKind) int {
	switch kind {
	case service.ErrorKindNone:
		return http.StatusOK
	case service.ErrorKindNotFound:
		return http.StatusNotFound
	case service.ErrorKindForbidden:
		return http.StatusForbidden
	case service.ErrorKindAlreadyCompleted, service.ErrorKindInProgress:
		return http.StatusConflict
	case service.ErrorKindInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (c *SpeakingController) respondError(ctx *gin.Context, err error) {
	kind := service.ClassifyError(err)
	if kind == service.ErrorKindInternal {
		util.LogInternalError(ctx, err)
		return
	}
	util.ErrorWithData(ctx, statusForKind(kind), err.Error(), gin.H{"errorKind": kind})
}

func attemptIDParam(ctx *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil || id == 0 {
		util.BadRequest(ctx, "invalid attempt id")
		return 0, false
	}
	return uint(id), true
}

// @Summary 提交口语答案
// @Description 上传录音并评分；同一尝试同一题重复提交返回已有结果
// @Tags 口语评测
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param audio formData file true "录音文件"
// @Param questionId formData int true "题目ID"
// @Param attemptId formData int false "尝试ID，不传则自动创建"
// @Param language formData string false "识别语言，如 en-GB"
// @Success 200 {object} util.Response
// @Router /api/speaking/submit [post]
func (c *SpeakingController) Submit(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	questionID := util.MustParseUint(ctx.PostForm("questionId"))
	if questionID == 0 {
		util.BadRequest(ctx, "questionId is required")
		return
	}
	attemptID := uint(0)
	if raw := ctx.PostForm("attemptId"); raw != "" {
		attemptID = util.MustParseUint(raw)
		if attemptID == 0 {
			util.BadRequest(ctx, "invalid attemptId")
			return
		}
	}

	fileHeader, err := ctx.FormFile("audio")
	if err != nil {
		util.BadRequest(ctx, "audio file is required")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	defer file.Close()

	res := c.Service.SubmitAnswerWithAutoAttempt(ctx.Request.Context(), service.SubmitRequest{
		AttemptID:  attemptID,
		QuestionID: questionID,
		UserID:     user.UserID,
		Language:   ctx.PostForm("language"),
		Audio: service.AudioUpload{
			Filename: fileHeader.Filename,
			Size:     fileHeader.Size,
			Reader:   file,
		},
	})

	if res.Success {
		util.Success(ctx, res)
		return
	}
	util.ErrorWithData(ctx, statusForKind(res.ErrorKind), res.ErrorMessage, res)
}

// @Summary 校验尝试是否可继续作答
// @Tags 口语评测
// @Produce json
// @Security BearerAuth
// @Param id path int true "尝试ID"
// @Success 200 {object} util.Response
// @Router /api/speaking/attempts/{id}/validate [get]
func (c *SpeakingController) ValidateAttempt(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	attemptID, ok := attemptIDParam(ctx)
	if !ok {
		return
	}

	kind, err := c.Service.ValidateAttempt(attemptID, user.UserID)
	if kind == service.ErrorKindInternal {
		util.LogInternalError(ctx, err)
		return
	}
	if err != nil {
		util.ErrorWithData(ctx, statusForKind(kind), err.Error(), gin.H{"valid": false, "errorKind": kind})
		return
	}
	util.Success(ctx, gin.H{"valid": true})
}

// @Summary 结束尝试
// @Tags 口语评测
// @Produce json
// @Security BearerAuth
// @Param id path int true "尝试ID"
// @Success 200 {object} util.Response
// @Router /api/speaking/attempts/{id}/complete [post]
func (c *SpeakingController) CompleteAttempt(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	attemptID, ok := attemptIDParam(ctx)
	if !ok {
		return
	}

	attempt, err := c.Service.CompleteAttempt(attemptID, user.UserID)
	if err != nil {
		c.respondError(ctx, err)
		return
	}
	util.Success(ctx, attempt)
}

// @Summary 尝试的口语成绩汇总
// @Tags 口语评测
// @Produce json
// @Security BearerAuth
// @Param id path int true "尝试ID"
// @Success 200 {object} util.Response
// @Router /api/speaking/attempts/{id}/summary [get]
func (c *SpeakingController) AttemptSummary(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	attemptID, ok := attemptIDParam(ctx)
	if !ok {
		return
	}

	summary, err := c.Service.GetAttemptSummary(attemptID, user.UserID)
	if err != nil {
		c.respondError(ctx, err)
		return
	}
	util.Success(ctx, summary)
}

type RecognizeRequest struct {
	AudioURL string `json:"audioUrl" binding:"required"`
	Language string `json:"language"`
}

// @Summary 仅转写录音
// @Tags 口语评测
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body RecognizeRequest true "录音地址"
// @Success 200 {object} util.Response
// @Router /api/speaking/recognize [post]
func (c *SpeakingController) Recognize(ctx *gin.Context) {
	var req RecognizeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	transcript, err := c.Service.RecognizeSpeech(ctx.Request.Context(), req.AudioURL, req.Language)
	if err != nil {
		if service.ClassifyError(err) == service.ErrorKindInvalid {
			util.BadRequest(ctx, err.Error())
			return
		}
		util.Error(ctx, http.StatusBadGateway, "speech recognition failed: "+err.Error())
		return
	}
	util.Success(ctx, gin.H{"transcript": transcript})
}

// @Summary 按当前权重核对已存储总分（只读）
// @Tags 口语评测-管理
// @Produce json
// @Security BearerAuth
// @Param attemptId query int false "尝试ID，不传检查全部"
// @Success 200 {object} util.Response
// @Router /api/admin/speaking/rescore [get]
func (c *SpeakingController) Rescore(ctx *gin.Context) {
	attemptID := uint(0)
	if raw := ctx.Query("attemptId"); raw != "" {
		attemptID = util.MustParseUint(raw)
		if attemptID == 0 {
			util.BadRequest(ctx, "invalid attemptId")
			return
		}
	}

	report, err := c.Service.Rescore(attemptID)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, report)
}
