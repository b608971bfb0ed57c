package oss

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"

	"github.com/seomaster/report_server/config"
)

type Client struct {
	client     *oss.Client
	bucket     *oss.Bucket
	bucketName string
	cdnDomain  string
}

func NewClient(cfg *config.OSSConfig) (*Client, error) {
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create OSS client: %w", err)
	}

	bucket, err := client.Bucket(cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}

	return &Client{
		client:     client,
		bucket:     bucket,
		bucketName: cfg.BucketName,
		cdnDomain:  cfg.CDNDomain,
	}, nil
}

// Enabled OSS 配置齐全
func Enabled(cfg *config.OSSConfig) bool {
	return cfg.Endpoint != "" && cfg.AccessKeyID != "" && cfg.BucketName != ""
}

func reportPrefix(reportID string) string {
	return fmt.Sprintf("reports/%s/", reportID)
}

// SnapshotKey 报告快照对象路径
func SnapshotKey(reportID string, attempt int, at time.Time) string {
	return fmt.Sprintf("%s%d-%d.json", reportPrefix(reportID), attempt, at.Unix())
}

// UploadReportSnapshot 归档已完成报告的 JSON
func (c *Client) UploadReportSnapshot(reportID string, attempt int, data []byte) (string, error) {
	objectKey := SnapshotKey(reportID, attempt, time.Now())

	err := c.bucket.PutObject(objectKey, bytes.NewReader(data), oss.ContentType("application/json"))
	if err != nil {
		return "", fmt.Errorf("failed to upload report snapshot: %w", err)
	}

	return c.GetURL(objectKey), nil
}

// DeleteReportSnapshots 删除报告的全部快照
func (c *Client) DeleteReportSnapshots(reportID string) (int, error) {
	prefix := reportPrefix(reportID)
	deleted := 0
	marker := ""

	for {
		result, err := c.bucket.ListObjects(oss.Prefix(prefix), oss.Marker(marker))
		if err != nil {
			return deleted, fmt.Errorf("failed to list snapshots: %w", err)
		}

		keys := make([]string, 0, len(result.Objects))
		for _, obj := range result.Objects {
			keys = append(keys, obj.Key)
		}
		if len(keys) > 0 {
			if _, err := c.bucket.DeleteObjects(keys, oss.DeleteObjectsQuiet(true)); err != nil {
				return deleted, fmt.Errorf("failed to delete snapshots: %w", err)
			}
			deleted += len(keys)
		}

		if !result.IsTruncated {
			return deleted, nil
		}
		marker = result.NextMarker
	}
}

// GetURL 获取文件访问 URL
func (c *Client) GetURL(objectKey string) string {
	if c.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", c.cdnDomain, objectKey)
	}
	endpoint := strings.TrimPrefix(strings.TrimPrefix(c.client.Config.Endpoint, "https://"), "http://")
	return fmt.Sprintf("https://%s.%s/%s", c.bucketName, endpoint, objectKey)
}

// GetSignedURL 生成带签名的临时访问URL（默认1小时有效）
func (c *Client) GetSignedURL(objectKey string, expireSeconds ...int64) (string, error) {
	expire := int64(3600) // 默认1小时
	if len(expireSeconds) > 0 && expireSeconds[0] > 0 {
		expire = expireSeconds[0]
	}

	signedURL, err := c.bucket.SignURL(objectKey, oss.HTTPGet, expire)
	if err != nil {
		return "", fmt.Errorf("failed to generate signed URL: %w", err)
	}

	return signedURL, nil
}
